package main

import (
	"testing"

	"trumi/inventory/internal/config"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{Env: "production", AuthSecret: "short", AllowedOrigin: "https://shop.example"})
	if err == nil {
		t.Fatalf("expected short secret to be rejected in production")
	}

	err = validateSecurityConfig(config.Config{Env: "production", AuthSecret: "0123456789abcdef0123456789abcdef", AllowedOrigin: "*"})
	if err == nil {
		t.Fatalf("expected wildcard origin to be rejected in production")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{Env: "production", AuthSecret: "0123456789abcdef0123456789abcdef", AllowedOrigin: "https://shop.example"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestValidateSecurityConfigToleratesDevelopment(t *testing.T) {
	if err := validateSecurityConfig(config.Config{Env: "development"}); err != nil {
		t.Fatalf("expected development config to pass, got %v", err)
	}
}
