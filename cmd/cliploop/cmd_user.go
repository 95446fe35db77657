/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/friendsincode/cliploop/internal/auth"
	"github.com/friendsincode/cliploop/internal/db"
	"github.com/friendsincode/cliploop/internal/models"
)

var (
	userEmail string
	userRole  string
	keyName   string
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a user account",
	Long:  "Create a user account. The password is read from stdin.",
	RunE:  runUserCreate,
}

var userKeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Issue an API key for a user",
	Long:  "Issue an API key for an existing user. The plaintext key is printed once and never stored.",
	RunE:  runUserKey,
}

func init() {
	userCreateCmd.Flags().StringVar(&userEmail, "email", "", "User email (required)")
	userCreateCmd.Flags().StringVar(&userRole, "role", "operator", "User role (admin or operator)")
	_ = userCreateCmd.MarkFlagRequired("email")

	userKeyCmd.Flags().StringVar(&userEmail, "email", "", "User email (required)")
	userKeyCmd.Flags().StringVar(&keyName, "name", "cli", "Key name")
	_ = userKeyCmd.MarkFlagRequired("email")

	userCmd.AddCommand(userCreateCmd)
	userCmd.AddCommand(userKeyCmd)
	rootCmd.AddCommand(userCmd)
}

func promptPassword() (string, error) {
	fmt.Print("Password: ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimSpace(line)
	if len(password) < 8 {
		return "", fmt.Errorf("password must be at least 8 characters")
	}
	return password, nil
}

func runUserCreate(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if userRole != "admin" && userRole != "operator" {
		return fmt.Errorf("unknown role %q", userRole)
	}

	password, err := promptPassword()
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	database, err := initDatabase()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(database) }()
	if err := db.Migrate(database); err != nil {
		return err
	}

	user := models.User{
		ID:       uuid.NewString(),
		Email:    strings.ToLower(userEmail),
		Password: hash,
		Role:     userRole,
	}
	if err := database.Create(&user).Error; err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	fmt.Printf("created user %s (%s)\n", user.Email, user.Role)
	return nil
}

func runUserKey(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	database, err := initDatabase()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(database) }()

	var user models.User
	if err := database.First(&user, "email = ?", strings.ToLower(userEmail)).Error; err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}

	plaintext, key, err := auth.GenerateAPIKey(user.ID, keyName)
	if err != nil {
		return err
	}
	if err := database.Create(key).Error; err != nil {
		return fmt.Errorf("store api key: %w", err)
	}

	fmt.Printf("api key for %s (store it now, it is not shown again):\n%s\n", user.Email, plaintext)
	return nil
}
