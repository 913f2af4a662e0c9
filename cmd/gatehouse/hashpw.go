// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/gatehouse/gatehouse/internal/auth"
)

// NewHashPasswordCmd creates the hash-password subcommand. Useful for
// seeding users by hand or checking what a stored hash looks like.
func NewHashPasswordCmd() *cobra.Command {
	var useBcrypt bool
	var bcryptCost int

	cmd := &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Hash a password the way the server would store it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var hasher auth.PasswordHasher = auth.NewArgon2idHasher()
			if useBcrypt {
				hasher = auth.NewBcryptHasher(bcryptCost)
			}
			hash, err := hasher.Hash(args[0])
			if err != nil {
				return err
			}
			cmd.Println(hash)
			return nil
		},
	}

	cmd.Flags().BoolVar(&useBcrypt, "bcrypt", false, "use bcrypt instead of argon2id")
	cmd.Flags().IntVar(&bcryptCost, "bcrypt-cost", bcrypt.DefaultCost, "bcrypt cost factor")

	return cmd
}
