package main

import (
	"errors"
	"fmt"

	"github.com/dmitrijs2005/socialauth/internal/common"
	"github.com/spf13/cobra"
)

// NewGenSecretCmd prints a random hex string suitable for SECRET_KEY.
func NewGenSecretCmd() *cobra.Command {
	var size int

	cmd := &cobra.Command{
		Use:   "gen-secret",
		Short: "Generate a random token signing secret",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if size < 32 {
				return errors.New("secret must be at least 32 bytes")
			}
			s, err := common.MakeRandHexString(size)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), s)
			return nil
		},
	}
	cmd.Flags().IntVar(&size, "bytes", 32, "number of random bytes")
	return cmd
}
