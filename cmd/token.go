// -- cmd/token.go --
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/droidpilot/internal/transport"
)

var tokenDeviceID string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a device agent bearer token.",
	Long: `Mints the HS256 token a device agent presents on the gateway's device
routes. Requires server.device_jwt_secret (or DROIDPILOT_DEVICE_JWT_SECRET)
to be set; the token's subject is the device id.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		secret := appConfig.Server.DeviceJWTSecret
		if secret == "" {
			return fmt.Errorf("no device JWT secret configured; set server.device_jwt_secret or DROIDPILOT_DEVICE_JWT_SECRET")
		}
		token, err := transport.NewDeviceToken(secret, tokenDeviceID)
		if err != nil {
			return fmt.Errorf("failed to sign device token: %w", err)
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenDeviceID, "device", "", "device id the token is issued for (required)")
	tokenCmd.MarkFlagRequired("device")
	rootCmd.AddCommand(tokenCmd)
}
