package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/dmitrijs2005/socialauth/internal/common"
	"github.com/dmitrijs2005/socialauth/internal/server/auth"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

func NewHashPasswordCmd() *cobra.Command {
	var cost int
	var skipPolicy bool

	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Read a password without echo and print its bcrypt hash",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHashPassword(cmd, cost, skipPolicy)
		},
	}
	cmd.Flags().IntVar(&cost, "cost", auth.DefaultBcryptCost, "bcrypt cost")
	cmd.Flags().BoolVar(&skipPolicy, "skip-policy", false, "do not enforce the password complexity rules")
	return cmd
}

func runHashPassword(cmd *cobra.Command, cost int, skipPolicy bool) error {
	hasher, err := auth.NewHasher(cost)
	if err != nil {
		return err
	}

	cmd.PrintErr("Enter password: ")
	pw, err := readPassword(int(os.Stdin.Fd()))
	cmd.PrintErrln()
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	defer common.WipeByteArray(pw)

	cmd.PrintErr("Repeat password: ")
	again, err := readPassword(int(os.Stdin.Fd()))
	cmd.PrintErrln()
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	defer common.WipeByteArray(again)

	if !bytes.Equal(pw, again) {
		return errors.New("passwords do not match")
	}

	if !skipPolicy {
		if err := auth.DefaultPasswordPolicy().Validate(string(pw)); err != nil {
			return err
		}
	}

	hash, err := hasher.Hash(string(pw))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), hash)
	return nil
}
