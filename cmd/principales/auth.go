package main

import (
	"bufio"
	"fmt"
	"net/http"
	"strings"

	"principales/internal/errors"
	"principales/internal/httputil"
	"principales/internal/metrics"
	"principales/internal/service"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

// tokenQueryParam carries the token for clients that cannot set headers (WebSocket)
const tokenQueryParam = "token"

// tokenAuth checks API bearer tokens against bcrypt hashes. With no hashes
// configured every request passes; config loading refuses that in production.
type tokenAuth struct {
	hashes [][]byte
	logger *logrus.Logger
}

func newTokenAuth(hashes []string, logger *logrus.Logger) *tokenAuth {
	a := &tokenAuth{logger: logger}
	for _, h := range hashes {
		if h = strings.TrimSpace(h); h != "" {
			a.hashes = append(a.hashes, []byte(h))
		}
	}
	return a
}

func (a *tokenAuth) enabled() bool {
	return len(a.hashes) > 0
}

func (a *tokenAuth) verify(token string) bool {
	if token == "" {
		return false
	}
	for _, h := range a.hashes {
		if bcrypt.CompareHashAndPassword(h, []byte(token)) == nil {
			return true
		}
	}
	return false
}

// requestToken reads "Authorization: Bearer <token>", falling back to ?token=
func requestToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get(tokenQueryParam)
}

// middleware rejects requests without a valid token with 401
func (a *tokenAuth) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.enabled() {
			next.ServeHTTP(w, r)
			return
		}

		token := requestToken(r)
		if !a.verify(token) {
			reason := "invalid token"
			if token == "" {
				reason = "missing token"
			}
			metrics.IncrementCounter("http_auth_failures_total", map[string]string{"reason": reason}, "Rejected API requests")
			a.logger.WithFields(logrus.Fields{
				service.LogFieldURL:      r.URL.Path,
				service.LogFieldRemoteIP: httputil.GetClientIP(r),
				"reason":                 reason,
			}).Warn("Rejected unauthenticated API request")
			httputil.WriteError(w, r, errors.NewAuthError(reason))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// newHashTokenCmd prints the bcrypt hash to put in server.api_token_hashes
func newHashTokenCmd() *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "hash-token [token]",
		Short: "Hash an API token for server.api_token_hashes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var token string
			if len(args) == 1 {
				token = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read token: %w", err)
				}
				token = strings.TrimSpace(line)
			}
			if token == "" {
				return fmt.Errorf("token is empty")
			}

			hash, err := bcrypt.GenerateFromPassword([]byte(token), cost)
			if err != nil {
				return fmt.Errorf("hash token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(hash))
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost")
	return cmd
}
