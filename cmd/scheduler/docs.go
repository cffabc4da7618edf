package main

//go:generate swag init -g cmd/scheduler/main.go -o docs

// @title           MTF Cascade Scheduler API
// @version         0.1.0
// @description     Timeframe eligibility, cascade validation, cycles and kill switches.
// @host            localhost:8080
// @BasePath        /
// @schemes         http
// @securityDefinitions.apikey BearerAuth
// @in              header
// @name            Authorization
