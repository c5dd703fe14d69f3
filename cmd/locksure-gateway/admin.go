package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/locksure-gateway/internal/config"
	"github.com/MarcoPoloResearchLab/locksure-gateway/internal/credentials"
	"github.com/MarcoPoloResearchLab/locksure-gateway/internal/database"
	"github.com/MarcoPoloResearchLab/locksure-gateway/internal/lockstate"
	"github.com/MarcoPoloResearchLab/locksure-gateway/internal/logging"
	"github.com/MarcoPoloResearchLab/locksure-gateway/internal/rooms"
	"github.com/MarcoPoloResearchLab/locksure-gateway/internal/users"
)

func newUsersCommand() *cobra.Command {
	usersCmd := &cobra.Command{
		Use:   "users",
		Short: "Manage user accounts",
	}

	var input users.NewUser
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Create a user that can sign in on the linking form",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd.Context(), func(ctx context.Context, db *gorm.DB, logger *zap.Logger) error {
				service, err := users.NewService(users.ServiceConfig{Database: db, Clock: time.Now})
				if err != nil {
					return err
				}
				if !credentials.IsDirectUserID(input.UserID) {
					logger.Warn("user id cannot be presented directly as a bearer token", zap.String("user_id", input.UserID))
				}
				created, err := service.Create(ctx, input)
				if err != nil {
					return err
				}
				logger.Info("user created", zap.String("user_id", created.UserID), zap.String("email", created.Email))
				return nil
			})
		},
	}
	addCmd.Flags().StringVar(&input.UserID, "uid", "", "User id (28 alphanumeric characters for direct bearer use)")
	addCmd.Flags().StringVar(&input.Email, "email", "", "Sign-in email")
	addCmd.Flags().StringVar(&input.DisplayName, "name", "", "Display name")
	addCmd.Flags().StringVar(&input.Password, "password", "", "Sign-in password")
	addCmd.Flags().StringVar(&input.LegacyAccessToken, "legacy-token", "", "Previously issued access token to keep honouring")
	_ = addCmd.MarkFlagRequired("uid")

	usersCmd.AddCommand(addCmd)
	return usersCmd
}

func newRoomsCommand() *cobra.Command {
	roomsCmd := &cobra.Command{
		Use:   "rooms",
		Short: "Manage lock devices",
	}

	var room rooms.Room
	putCmd := &cobra.Command{
		Use:   "put",
		Short: "Create or update a lock device record",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateRoom(room); err != nil {
				return err
			}
			return withDatabase(cmd.Context(), func(ctx context.Context, db *gorm.DB, logger *zap.Logger) error {
				service, err := rooms.NewService(rooms.ServiceConfig{Database: db, Clock: time.Now, Logger: logger})
				if err != nil {
					return err
				}
				stored, err := service.Put(ctx, room)
				if err != nil {
					return err
				}
				logger.Info("room stored",
					zap.String("room_id", stored.RoomID),
					zap.String("owner_id", stored.OwnerUserID),
					zap.Int("state", stored.State),
					zap.Bool("monitor_only", stored.MonitorOnly),
				)
				return nil
			})
		},
	}
	putCmd.Flags().StringVar(&room.RoomID, "id", "", "Room id, used as the endpoint id")
	putCmd.Flags().StringVar(&room.OwnerUserID, "owner", "", "Owning user id")
	putCmd.Flags().StringVar(&room.Name, "name", "", "Friendly name (FRONT is discovered first)")
	putCmd.Flags().IntVar(&room.State, "state", int(lockstate.CodeLocked), "Device state code (1-4)")
	putCmd.Flags().BoolVar(&room.MonitorOnly, "monitor-only", false, "Refuse lock and unlock directives")
	_ = putCmd.MarkFlagRequired("id")
	_ = putCmd.MarkFlagRequired("owner")

	roomsCmd.AddCommand(putCmd)
	return roomsCmd
}

func validateRoom(room rooms.Room) error {
	if _, err := rooms.NewRoomID(room.RoomID); err != nil {
		return err
	}
	if _, err := rooms.NewOwnerID(room.OwnerUserID); err != nil {
		return err
	}
	if !lockstate.Known(room.State) {
		return fmt.Errorf("state %d is not a device state code (1 locked, 2 unlocked, 3 closed, 4 open)", room.State)
	}
	return nil
}

func withDatabase(ctx context.Context, run func(ctx context.Context, db *gorm.DB, logger *zap.Logger) error) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := run(ctx, db, logger); err != nil {
		return fmt.Errorf("%s: %w", appConfig.DatabasePath, err)
	}
	return nil
}
