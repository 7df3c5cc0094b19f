package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"
)

func newKeygenCmd() *cobra.Command {
	var export bool

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Genera una master key (32 bytes, base64) para SALUS_MASTER_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			key := make([]byte, 32)
			if _, err := rand.Read(key); err != nil {
				return err
			}
			enc := base64.StdEncoding.EncodeToString(key)
			if export {
				fmt.Printf("export SALUS_MASTER_KEY=%s\n", enc)
			} else {
				fmt.Println(enc)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&export, "export", false, "imprime en formato export para shell")
	return cmd
}
