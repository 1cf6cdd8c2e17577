package oauth

import (
	"errors"
	"strconv"

	"github.com/go-viper/mapstructure/v2"

	"github.com/openkcm/session-auth/internal/config"
)

var errMissingSubject = errors.New("missing subject claim")

type userClaims struct {
	Subject  string `mapstructure:"sub"`
	Email    string `mapstructure:"email"`
	Name     string `mapstructure:"name"`
	Issuer   string `mapstructure:"iss"`
	TenantID string `mapstructure:"tid"`
}

// mapClaims projects provider specific claim names onto userClaims. Types
// are checked strictly: a present claim of the wrong type is an error.
func mapClaims(raw map[string]any, m config.ClaimMapping) (userClaims, error) {
	projected := map[string]any{
		"sub":  raw[m.Subject],
		"name": raw[m.Name],
		"iss":  raw[m.Issuer],
		"tid":  raw[m.TenantID],
	}
	for _, key := range m.Email {
		if v, ok := raw[key]; ok && v != nil && v != "" {
			projected["email"] = v
			break
		}
	}

	// numeric subjects (GitHub, Discord) are accepted and formatted
	if n, ok := projected["sub"].(float64); ok {
		projected["sub"] = formatNumber(n)
	}

	var uc userClaims
	if err := mapstructure.Decode(projected, &uc); err != nil {
		return userClaims{}, err
	}
	if uc.Subject == "" {
		return userClaims{}, errMissingSubject
	}

	return uc, nil
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}
