package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/devicehub/server/internal/auth"
	"github.com/devicehub/server/internal/model"
	"github.com/devicehub/server/internal/repo"
)

// newSeedCommand creates the seed command. Users, devices and lots have no
// HTTP endpoints; they are created here.
func newSeedCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create users, devices and lots",
	}

	cmd.AddCommand(newSeedUserCommand())
	cmd.AddCommand(newSeedDeviceCommand())
	cmd.AddCommand(newSeedLotCommand())

	return cmd
}

func newSeedUserCommand() *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "user",
		Short: "Create an active user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer e.db.Close()

			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			user := model.User{Email: model.NormalizeEmail(email), PasswordHash: hash, Active: true}
			if err := repo.NewUserRepo(e.db).Create(cmd.Context(), &user); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), user.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "user email")
	cmd.Flags().StringVar(&password, "password", "", "user password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}

func newSeedDeviceCommand() *cobra.Command {
	var owner, deviceType, chid string
	var count int

	cmd := &cobra.Command{
		Use:   "device",
		Short: "Create devices owned by a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return fmt.Errorf("count must be at least 1")
			}

			e, err := setup(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer e.db.Close()

			user, err := ownerByEmail(cmd.Context(), repo.NewUserRepo(e.db), owner)
			if err != nil {
				return err
			}

			devices := repo.NewDeviceRepo(e.db, e.cfg.DBDriver)
			for i := 0; i < count; i++ {
				d := &model.Device{Type: deviceType, Chid: chid, OwnerID: user.ID}
				if err := devices.Create(cmd.Context(), d); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), d.ID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner email")
	cmd.Flags().StringVar(&deviceType, "type", "Computer", "device type")
	cmd.Flags().StringVar(&chid, "chid", "", "hardware identifier")
	cmd.Flags().IntVar(&count, "count", 1, "number of devices to create")
	_ = cmd.MarkFlagRequired("owner")

	return cmd
}

func newSeedLotCommand() *cobra.Command {
	var owner, name string
	var devices []int

	cmd := &cobra.Command{
		Use:   "lot",
		Short: "Create a lot owned by a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer e.db.Close()

			user, err := ownerByEmail(cmd.Context(), repo.NewUserRepo(e.db), owner)
			if err != nil {
				return err
			}

			ids := make([]int64, len(devices))
			for i, id := range devices {
				ids[i] = int64(id)
			}

			lot := &model.Lot{Name: name, OwnerID: user.ID, DeviceIDs: ids}
			if err := repo.NewLotRepo(e.db, e.cfg.DBDriver).Create(cmd.Context(), lot); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), lot.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner email")
	cmd.Flags().StringVar(&name, "name", "", "lot name")
	cmd.Flags().IntSliceVar(&devices, "devices", nil, "device ids to put in the lot")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func ownerByEmail(ctx context.Context, users repo.UserRepo, email string) (model.User, error) {
	user, err := users.GetByEmail(ctx, model.NormalizeEmail(email))
	if err != nil {
		return model.User{}, fmt.Errorf("owner %s: %w", email, err)
	}
	return user, nil
}
