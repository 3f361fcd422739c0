package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"propledger/internal/config"
	"propledger/internal/db"
	"propledger/internal/logging"
	"propledger/internal/store"
)

// admin grants or revokes admin roles from the command line. The first super
// admin is created this way.
func main() {
	os.Exit(run(os.Args[1:]))
}

type grantRequest struct {
	userID    string
	super     bool
	grant     []string
	revoke    []string
	grantedBy string
}

func parseArgs(args []string) (grantRequest, error) {
	fs := flag.NewFlagSet("admin", flag.ContinueOnError)
	userID := fs.String("user", "", "user id to modify")
	super := fs.Bool("super", false, "make the user a super admin")
	grant := fs.String("grant", "", "comma separated roles to grant")
	revoke := fs.String("revoke", "", "comma separated roles to revoke")
	grantedBy := fs.String("by", "", "admin id recorded as the grantor")
	if err := fs.Parse(args); err != nil {
		return grantRequest{}, err
	}
	req := grantRequest{
		userID:    strings.TrimSpace(*userID),
		super:     *super,
		grant:     splitRoles(*grant),
		revoke:    splitRoles(*revoke),
		grantedBy: strings.TrimSpace(*grantedBy),
	}
	if req.userID == "" {
		return grantRequest{}, fmt.Errorf("-user is required")
	}
	for _, role := range append(append([]string{}, req.grant...), req.revoke...) {
		if !store.KnownRole(role) {
			return grantRequest{}, fmt.Errorf("unknown role %q", role)
		}
	}
	return req, nil
}

func splitRoles(raw string) []string {
	var roles []string
	for _, part := range strings.Split(raw, ",") {
		if role := strings.TrimSpace(part); role != "" {
			roles = append(roles, role)
		}
	}
	return roles
}

func run(args []string) int {
	req, err := parseArgs(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	cfg := config.Load()
	logger, err := logging.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect database", zap.Error(err))
		return 1
	}
	defer database.Close()

	admins := store.NewAdminStore(database)
	audit := store.NewAuditStore(database)
	runner := db.NewTxRunner(database, logger.Named("db"))

	ctx := context.Background()
	err = runner.WithTx(ctx, func(tx *sqlx.Tx) error {
		var grantedBy *string
		if req.grantedBy != "" {
			grantedBy = &req.grantedBy
		}
		if req.super || len(req.grant) > 0 {
			if err := admins.Grant(ctx, tx, req.userID, req.super, req.grant, grantedBy); err != nil {
				return err
			}
		}
		if err := admins.Revoke(ctx, tx, req.userID, req.revoke); err != nil {
			return err
		}
		return audit.Log(ctx, tx, req.grantedBy, "admin.roles_changed", "admin", req.userID, map[string]any{
			"super":   req.super,
			"granted": req.grant,
			"revoked": req.revoke,
		})
	})
	if err != nil {
		logger.Error("failed to update admin", zap.String("user_id", req.userID), zap.Error(err))
		return 1
	}

	access, err := admins.Access(ctx, req.userID)
	if err != nil {
		logger.Error("failed to read admin", zap.Error(err))
		return 1
	}
	logger.Info("admin updated",
		zap.String("user_id", req.userID),
		zap.Bool("is_admin", access.IsAdmin),
		zap.Bool("is_super", access.IsSuper),
		zap.Strings("roles", access.Roles),
	)
	return 0
}
