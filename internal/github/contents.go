// Package github stores blobs in a GitHub repository through the REST
// contents API. The file sha is the version token; a PUT carrying a stale sha
// is rejected by GitHub, which gives the conditional write for free.
package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"navsphere/api/internal/blob"

	log "github.com/sirupsen/logrus"
	"resty.dev/v3"
)

const DefaultAPIURL = "https://api.github.com"

type Config struct {
	APIURL  string
	Owner   string
	Repo    string
	Branch  string
	Token   string
	Timeout time.Duration
}

type Store struct {
	cfg        Config
	httpClient *resty.Client
	logger     log.FieldLogger
}

type contentResponse struct {
	Type     string `json:"type"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
	SHA      string `json:"sha"`
}

type putRequest struct {
	Message string     `json:"message"`
	Content string     `json:"content"`
	SHA     string     `json:"sha,omitempty"`
	Branch  string     `json:"branch,omitempty"`
	Author  *committer `json:"author,omitempty"`
}

type committer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type putResponse struct {
	Content struct {
		SHA string `json:"sha"`
	} `json:"content"`
	Commit struct {
		SHA string `json:"sha"`
	} `json:"commit"`
}

func New(cfg Config, logger log.FieldLogger) (*Store, error) {
	if strings.TrimSpace(cfg.Owner) == "" || strings.TrimSpace(cfg.Repo) == "" {
		return nil, errors.New("github store requires owner and repo")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = log.StandardLogger()
	}

	// Writes are conditional, so a blind resend after an ambiguous failure
	// could only ever conflict. Retries stay off.
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/vnd.github+json").
		SetHeader("X-GitHub-Api-Version", "2022-11-28").
		SetHeader("User-Agent", "navsphere-api")

	return &Store{
		cfg:        cfg,
		httpClient: client,
		logger:     logger.WithFields(log.Fields{"store": "github", "repo": cfg.Owner + "/" + cfg.Repo}),
	}, nil
}

func (s *Store) Close() error {
	return s.httpClient.Close()
}

func (s *Store) Read(ctx context.Context, path string) (blob.Blob, error) {
	req := s.httpClient.R().SetContext(ctx)
	s.authorize(req, "")
	if s.cfg.Branch != "" {
		req.SetQueryParam("ref", s.cfg.Branch)
	}

	resp, err := req.Get(s.contentsURL(path))
	if err != nil {
		return blob.Blob{}, blob.Transportf(err, "get %s", path)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return blob.Blob{}, fmt.Errorf("%w: %s", blob.ErrNotFound, path)
	}
	if resp.IsError() {
		return blob.Blob{}, blob.Transportf(apiError(resp), "get %s", path)
	}

	var body contentResponse
	if err := json.Unmarshal([]byte(resp.String()), &body); err != nil {
		return blob.Blob{}, blob.Transportf(err, "decode contents response")
	}
	if body.Type != "" && body.Type != "file" {
		return blob.Blob{}, blob.Transportf(fmt.Errorf("got %s", body.Type), "%s is not a file", path)
	}

	content, err := s.decodeContent(ctx, path, body)
	if err != nil {
		return blob.Blob{}, err
	}
	return blob.Blob{Content: content, Version: body.SHA}, nil
}

func (s *Store) Write(ctx context.Context, wr blob.WriteRequest) (string, error) {
	payload := putRequest{
		Message: wr.Message,
		Content: base64.StdEncoding.EncodeToString(wr.Content),
		SHA:     wr.ExpectedVersion,
		Branch:  s.cfg.Branch,
	}
	if payload.Message == "" {
		payload.Message = "Update " + wr.Path
	}
	if wr.Author.Name != "" && wr.Author.Email != "" {
		payload.Author = &committer{Name: wr.Author.Name, Email: wr.Author.Email}
	}

	req := s.httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload)
	s.authorize(req, wr.Author.Token)

	resp, err := req.Put(s.contentsURL(wr.Path))
	if err != nil {
		return "", blob.Transportf(err, "put %s", wr.Path)
	}
	if isCredentialRejection(resp) {
		return "", fmt.Errorf("%w: put %s: %w", blob.ErrUnauthorized, wr.Path, apiError(resp))
	}
	if isShaRejection(resp) {
		s.logger.WithFields(log.Fields{"path": wr.Path, "expected": wr.ExpectedVersion}).Info("github: conditional write rejected")
		return "", &blob.ConflictError{Path: wr.Path, Expected: wr.ExpectedVersion}
	}
	if resp.IsError() {
		return "", blob.Transportf(apiError(resp), "put %s", wr.Path)
	}

	var body putResponse
	if err := json.Unmarshal([]byte(resp.String()), &body); err != nil {
		return "", blob.Transportf(err, "decode put response")
	}
	if body.Content.SHA == "" {
		return "", blob.Transportf(errors.New("missing content sha"), "put %s", wr.Path)
	}
	s.logger.WithFields(log.Fields{"path": wr.Path, "commit": body.Commit.SHA}).Debug("github: committed")
	return body.Content.SHA, nil
}

// VerifyCredential checks that token can push to the configured repository
// and returns it as the credential commits are made with.
func (s *Store) VerifyCredential(ctx context.Context, token string) (string, error) {
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+token).
		Get(s.repoURL())
	if err != nil {
		return "", blob.Transportf(err, "verify credential")
	}
	// GitHub answers 404 for a private repository the token cannot see.
	if isCredentialRejection(resp) || resp.StatusCode() == http.StatusNotFound {
		return "", fmt.Errorf("%w: %w", blob.ErrUnauthorized, apiError(resp))
	}
	if resp.IsError() {
		return "", blob.Transportf(apiError(resp), "verify credential")
	}

	var body struct {
		Permissions struct {
			Push bool `json:"push"`
		} `json:"permissions"`
	}
	if err := json.Unmarshal([]byte(resp.String()), &body); err != nil {
		return "", blob.Transportf(err, "decode repository response")
	}
	if !body.Permissions.Push {
		return "", fmt.Errorf("%w: token cannot push to %s/%s", blob.ErrUnauthorized, s.cfg.Owner, s.cfg.Repo)
	}
	return token, nil
}

// decodeContent handles files over the inline size limit, for which the
// contents API reports encoding "none" and the body must be fetched raw.
func (s *Store) decodeContent(ctx context.Context, path string, body contentResponse) ([]byte, error) {
	switch body.Encoding {
	case "base64":
		cleaned := strings.NewReplacer("\n", "", "\r", "").Replace(body.Content)
		content, err := base64.StdEncoding.DecodeString(cleaned)
		if err != nil {
			return nil, blob.Transportf(err, "decode %s", path)
		}
		return content, nil
	case "", "none":
		req := s.httpClient.R().
			SetContext(ctx).
			SetHeader("Accept", "application/vnd.github.raw")
		s.authorize(req, "")
		if s.cfg.Branch != "" {
			req.SetQueryParam("ref", s.cfg.Branch)
		}
		resp, err := req.Get(s.contentsURL(path))
		if err != nil {
			return nil, blob.Transportf(err, "get raw %s", path)
		}
		if resp.IsError() {
			return nil, blob.Transportf(apiError(resp), "get raw %s", path)
		}
		return []byte(resp.String()), nil
	default:
		return nil, blob.Transportf(fmt.Errorf("encoding %q", body.Encoding), "unsupported content encoding for %s", path)
	}
}

// authorize prefers the caller's token so commits are attributed to them.
func (s *Store) authorize(req *resty.Request, token string) {
	if token == "" {
		token = s.cfg.Token
	}
	if token != "" {
		req.SetHeader("Authorization", "Bearer "+token)
	}
}

func (s *Store) repoURL() string {
	return fmt.Sprintf("%s/repos/%s/%s", s.cfg.APIURL, url.PathEscape(s.cfg.Owner), url.PathEscape(s.cfg.Repo))
}

func (s *Store) contentsURL(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for index, segment := range segments {
		segments[index] = url.PathEscape(segment)
	}
	return s.repoURL() + "/contents/" + strings.Join(segments, "/")
}

// isCredentialRejection reports a refused token. A 403 caused by rate
// limiting is a transient upstream failure, not a bad credential.
func isCredentialRejection(resp *resty.Response) bool {
	switch resp.StatusCode() {
	case http.StatusUnauthorized:
		return true
	case http.StatusForbidden:
		return !strings.Contains(strings.ToLower(apiMessage(resp)), "rate limit")
	default:
		return false
	}
}

// isShaRejection reports whether a PUT failed on its sha precondition: 409
// for a stale sha, or 422 naming the sha when one was required but absent.
// Any other 422 is a validation failure such as an unknown branch.
func isShaRejection(resp *resty.Response) bool {
	switch resp.StatusCode() {
	case http.StatusConflict:
		return true
	case http.StatusUnprocessableEntity:
		return strings.Contains(strings.ToLower(apiMessage(resp)), "sha")
	default:
		return false
	}
}

func apiMessage(resp *resty.Response) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(resp.String()), &body); err != nil {
		return ""
	}
	return body.Message
}

func apiError(resp *resty.Response) error {
	if message := apiMessage(resp); message != "" {
		return fmt.Errorf("github %d: %s", resp.StatusCode(), message)
	}
	return fmt.Errorf("github %s", resp.Status())
}
