package main

import (
	"testing"
	"time"

	"realm-server/internal/auth"
	"realm-server/internal/config"
)

func TestTokenServiceRequiresSecret(t *testing.T) {
	if _, err := tokenService(config.AuthConfig{}); err == nil {
		t.Fatal("token service built without a secret")
	}

	cfg := config.AuthConfig{JWTSecret: "s3cret", TokenDuration: time.Hour}
	tokens, err := tokenService(cfg)
	if err != nil {
		t.Fatal(err)
	}
	token, err := tokens.GenerateToken(7, "alice")
	if err != nil {
		t.Fatal(err)
	}
	// the server builds its own service from the same config
	claims, err := auth.NewService(cfg.JWTSecret, cfg.TokenDuration).ValidateToken(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.UserID != 7 || claims.Username != "alice" {
		t.Errorf("claims = %+v", claims)
	}
}
