package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
)

var ErrNoEmail = errors.New("oauth provider returned no email")

// Profile is the subset of the provider's user info we care about.
type Profile struct {
	Email     string
	FirstName string
	LastName  string
}

type Provider struct {
	Name        string
	cfg         *oauth2.Config
	userInfoURL string
}

func NewGoogle(clientID, clientSecret, callbackURL string) *Provider {
	return &Provider{
		Name: "google",
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		userInfoURL: "https://www.googleapis.com/oauth2/v2/userinfo",
	}
}

func NewGithub(clientID, clientSecret, callbackURL string) *Provider {
	return &Provider{
		Name: "github",
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     github.Endpoint,
		},
		userInfoURL: "https://api.github.com/user",
	}
}

func (p *Provider) Configured() bool {
	return p.cfg.ClientID != "" && p.cfg.ClientSecret != ""
}

func (p *Provider) AuthCodeURL(state string) string {
	return p.cfg.AuthCodeURL(state)
}

// FetchProfile exchanges the authorization code and pulls the user's
// identity from the provider's userinfo endpoint.
func (p *Provider) FetchProfile(ctx context.Context, code string) (Profile, error) {
	token, err := p.cfg.Exchange(ctx, code)

	if err != nil {
		return Profile{}, fmt.Errorf("oauth exchange: %w", err)
	}

	client := p.cfg.Client(ctx, token)

	raw, err := fetchJSON(ctx, client, p.userInfoURL)

	if err != nil {
		return Profile{}, err
	}

	switch p.Name {
	case "google":
		return parseGoogleProfile(raw)
	case "github":
		return p.parseGithubProfile(ctx, client, raw)
	default:
		return Profile{}, fmt.Errorf("unknown provider %q", p.Name)
	}
}

func fetchJSON(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)

	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)

	if err != nil {
		return nil, err
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo request failed: %s", resp.Status)
	}

	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

func parseGoogleProfile(raw []byte) (Profile, error) {
	var info struct {
		Email      string `json:"email"`
		GivenName  string `json:"given_name"`
		FamilyName string `json:"family_name"`
	}

	if err := json.Unmarshal(raw, &info); err != nil {
		return Profile{}, err
	}

	if info.Email == "" {
		return Profile{}, ErrNoEmail
	}

	return Profile{
		Email:     info.Email,
		FirstName: info.GivenName,
		LastName:  info.FamilyName,
	}, nil
}

func (p *Provider) parseGithubProfile(ctx context.Context, client *http.Client, raw []byte) (Profile, error) {
	var info struct {
		Email string `json:"email"`
		Name  string `json:"name"`
		Login string `json:"login"`
	}

	if err := json.Unmarshal(raw, &info); err != nil {
		return Profile{}, err
	}

	// the public profile email is often hidden; fall back to the
	// primary verified address
	if info.Email == "" {
		email, err := p.fetchGithubPrimaryEmail(ctx, client)

		if err != nil {
			return Profile{}, err
		}
		info.Email = email
	}

	if info.Email == "" {
		return Profile{}, ErrNoEmail
	}

	first, last := splitName(info.Name)

	if first == "" {
		first = info.Login
	}

	return Profile{
		Email:     info.Email,
		FirstName: first,
		LastName:  last,
	}, nil
}

func (p *Provider) fetchGithubPrimaryEmail(ctx context.Context, client *http.Client) (string, error) {
	raw, err := fetchJSON(ctx, client, "https://api.github.com/user/emails")

	if err != nil {
		return "", err
	}

	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}

	if err := json.Unmarshal(raw, &emails); err != nil {
		return "", err
	}

	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, nil
		}
	}

	for _, e := range emails {
		if e.Verified {
			return e.Email, nil
		}
	}

	return "", nil
}

func splitName(full string) (first, last string) {
	parts := strings.Fields(full)

	if len(parts) == 0 {
		return "", ""
	}

	first = parts[0]
	last = strings.Join(parts[1:], " ")

	return
}
