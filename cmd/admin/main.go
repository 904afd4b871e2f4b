package main

import (
	"clinicmsg/backend/internal/auth"
	"clinicmsg/backend/internal/config"
	"clinicmsg/backend/internal/models"
	"clinicmsg/backend/internal/storage"
	"clinicmsg/backend/pkg/logger"
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const usage = `Usage: admin <command> [args]

Commands:
  create-user <id> <name> <role>         add a user (patient|admin|nurse|head_nurse|caregiver)
  issue-token <user_id> [ttl_hours]      print a signed access token
  revoke-token <token>                   blacklist a token until it expires
  set-status <user_id> <online|offline>  overwrite the stored presence status`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	logger.Init(cfg.GoEnv)

	db, err := gorm.Open(postgres.Open(cfg.DBURL), &gorm.Config{})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}

	var rdb *redis.Client
	if cfg.Redis != "" {
		opt, err := redis.ParseURL(cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		rdb = redis.NewClient(opt)
		defer rdb.Close()
	}

	// revocations must land where the server looks for them
	storageSvc := storage.NewStorageService(db, rdb, nil)
	resolver := auth.NewResolver(cfg.Secret, storageSvc)
	ctx := context.Background()

	switch os.Args[1] {
	case "create-user":
		if len(os.Args) != 5 {
			fmt.Println("Usage: admin create-user <id> <name> <role>")
			os.Exit(1)
		}
		if err := createUser(ctx, storageSvc, os.Args[2], os.Args[3], os.Args[4]); err != nil {
			logger.Fatal().Err(err).Msg("error creating user")
		}
		fmt.Printf("User %s has been created.\n", os.Args[2])
	case "issue-token":
		if len(os.Args) < 3 {
			fmt.Println("Usage: admin issue-token <user_id> [ttl_hours]")
			os.Exit(1)
		}
		ttl := config.TokenTTL
		if len(os.Args) > 3 {
			hours, err := strconv.Atoi(os.Args[3])
			if err != nil || hours <= 0 {
				fmt.Println("Invalid ttl. Please provide a positive integer.")
				os.Exit(1)
			}
			ttl = time.Duration(hours) * time.Hour
		}
		token, err := issueToken(ctx, storageSvc, resolver, os.Args[2], ttl)
		if err != nil {
			logger.Fatal().Err(err).Msg("error issuing token")
		}
		fmt.Println(token)
	case "revoke-token":
		if len(os.Args) != 3 {
			fmt.Println("Usage: admin revoke-token <token>")
			os.Exit(1)
		}
		if err := revokeToken(ctx, storageSvc, resolver, os.Args[2]); err != nil {
			logger.Fatal().Err(err).Msg("error revoking token")
		}
		fmt.Println("Token has been revoked.")
	case "set-status":
		if len(os.Args) != 4 {
			fmt.Println("Usage: admin set-status <user_id> <online|offline>")
			os.Exit(1)
		}
		status := os.Args[3]
		if status != models.StatusOnline && status != models.StatusOffline {
			fmt.Println("Status must be online or offline.")
			os.Exit(1)
		}
		if err := storageSvc.SetUserStatus(ctx, os.Args[2], status); err != nil {
			logger.Fatal().Err(err).Msg("error updating status")
		}
		fmt.Printf("User %s is now %s.\n", os.Args[2], status)
	default:
		fmt.Println("Unknown command")
		fmt.Println(usage)
		os.Exit(1)
	}
}

func createUser(ctx context.Context, s *storage.Service, id, name, role string) error {
	r := models.Role(role)
	if !r.Valid() {
		return fmt.Errorf("unknown role %q", role)
	}
	return s.SaveUser(ctx, &models.User{ID: id, Name: name, Role: r})
}

func issueToken(ctx context.Context, s storage.Storage, r *auth.Resolver, userID string, ttl time.Duration) (string, error) {
	if _, err := s.GetUserByID(ctx, userID); err != nil {
		return "", err
	}
	token, _, err := r.IssueToken(userID, ttl)
	return token, err
}

func revokeToken(ctx context.Context, s storage.Storage, r *auth.Resolver, token string) error {
	claims, err := r.Parse(token)
	if err != nil {
		return err
	}
	return s.RevokeToken(ctx, claims.ID, r.RemainingTTL(claims))
}
