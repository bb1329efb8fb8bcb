package oauth

import (
	"context"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/twitch"
)

// TwitchRefreshFunc builds a RefreshFunc for the Twitch bot token using the
// standard authorization-code client configuration.
func TwitchRefreshFunc(clientID, clientSecret string) RefreshFunc {
	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     twitch.Endpoint,
	}
	return func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
		src := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
		tok, err := src.Token()
		if err != nil {
			return "", "", time.Time{}, "", err
		}
		return tok.AccessToken, tok.RefreshToken, tok.Expiry, "", nil
	}
}
