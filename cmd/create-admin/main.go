package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"mailroom/backend/internal/auth"
	"mailroom/backend/internal/auth/jwt"
	"mailroom/backend/internal/config"
	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/storage/postgres"
)

func main() {
	operator := flag.Bool("operator", false, "创建运营账号而不是系统管理员")
	flag.Parse()

	if flag.NArg() < 2 {
		fmt.Println("Usage: create-admin [-operator] <email> <password>")
		os.Exit(1)
	}
	email, password := flag.Arg(0), flag.Arg(1)

	role := domain.RoleSystemAdmin
	if *operator {
		role = domain.RoleOperator
	}

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Database.Type == "" || cfg.Database.DSN == "" {
		fmt.Println("MAILROOM_DATABASE_TYPE and MAILROOM_DATABASE_DSN are required")
		os.Exit(1)
	}

	store, err := postgres.Open(cfg.Database)
	if err != nil {
		fmt.Printf("Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tokens := jwt.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessExpiry, cfg.JWT.RefreshExpiry)
	authService := auth.NewService(store, tokens, nil, nil, nil, nil)

	result, err := authService.Register(ctx, auth.RegisterInput{Email: email, Password: password})
	if err != nil {
		if errors.Is(err, domain.ErrEmailExists) {
			fmt.Printf("Profile %s already exists\n", email)
		} else {
			fmt.Printf("Failed to create profile: %v\n", err)
		}
		os.Exit(1)
	}

	profile := result.Profile
	profile.Role = role
	profile.EmailConfirmed = true
	profile.UpdatedAt = time.Now().UTC()
	if err := store.UpdateProfile(ctx, profile); err != nil {
		fmt.Printf("Failed to promote profile: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Admin profile created successfully!\n")
	fmt.Printf("  ID:    %s\n", profile.ID)
	fmt.Printf("  Email: %s\n", profile.Email)
	fmt.Printf("  Role:  %s\n", profile.Role)
}
