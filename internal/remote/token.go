package remote

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// checkToken inspects the bearer token's expiry claim and warns when it
// is about to lapse. The token is minted elsewhere; we only parse it
// unverified here to log ahead of 401s.
func (c *Client) checkToken() {
	if c.token == "" {
		return
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(c.token, claims); err != nil {
		return // opaque token, nothing to inspect
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return
	}

	if remaining := time.Until(exp.Time); remaining < 5*time.Minute {
		c.logger.Warn("API token close to expiry",
			zap.Duration("remaining", remaining),
		)
	}
}
