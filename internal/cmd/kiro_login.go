package cmd

import (
	"context"
	"fmt"

	"github.com/jwadow/kiro-gateway/internal/auth/kiro"
	"github.com/jwadow/kiro-gateway/internal/config"
	"github.com/jwadow/kiro-gateway/internal/credential"
	"github.com/jwadow/kiro-gateway/internal/credstore"
	log "github.com/sirupsen/logrus"
)

// LoginOptions configures DoKiroLogin's flow selection and browser
// behaviour.
type LoginOptions struct {
	Provider    kiro.SocialProvider
	UseDevice   bool
	OpenBrowser bool
	Name        string
}

// DoKiroLogin drives C4 end to end: runs the PKCE social flow or the
// device-code flow depending on options, then persists the resulting
// record through store.Insert and prints the outcome (§7.4's `login`
// subcommand).
func DoKiroLogin(ctx context.Context, store credstore.Store, cfg *config.Config, options *LoginOptions) error {
	if options == nil {
		options = &LoginOptions{}
	}

	acquirer := kiro.NewAcquirer(nil)

	var rec *credential.Record
	var err error

	if options.UseDevice {
		rec, err = acquirer.StartDeviceLogin(ctx, kiro.DeviceLoginOptions{
			Region:      cfg.KiroRegion,
			AuthTimeout: cfg.OAuth.AuthTimeout,
			OnVerification: func(verificationURI, verificationURIComplete, userCode string) {
				fmt.Printf("To authenticate, visit %s and enter code %s\n", verificationURI, userCode)
				if verificationURIComplete != "" {
					fmt.Printf("Or open directly: %s\n", verificationURIComplete)
				}
			},
		})
	} else {
		provider := options.Provider
		if provider == "" {
			provider = kiro.ProviderGoogle
		}
		rec, err = acquirer.StartSocialLogin(ctx, kiro.SocialLoginOptions{
			Provider:      provider,
			Region:        cfg.KiroRegion,
			PortRangeFrom: cfg.OAuth.CallbackPortStart,
			PortRangeTo:   cfg.OAuth.CallbackPortEnd,
			OpenBrowser:   options.OpenBrowser,
		})
	}

	if err != nil {
		log.WithError(err).Error("kiro authentication failed")
		return fmt.Errorf("kiro authentication failed: %w", err)
	}

	name := options.Name
	if name == "" {
		name = rec.Name
	}

	saved, err := store.Insert(ctx, credstore.Fields{
		Name:         name,
		AuthKind:     rec.AuthKind,
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		ProfileARN:   rec.ProfileARN,
		Region:       rec.RegionOrDefault(),
		ExpiresAt:    rec.ExpiresAt,
		ClientID:     rec.ClientID,
		ClientSecret: rec.ClientSecret,
		IsActive:     true,
		Source:       rec.Source,
	})
	if err != nil {
		return fmt.Errorf("authentication succeeded but saving the record failed: %w", err)
	}

	fmt.Printf("%s+%s Kiro authentication successful! Saved account id=%d\n", colorGreen, colorReset, saved.ID)
	return nil
}
