package chunkstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const (
	DefaultOneDriveAPI = "https://graph.microsoft.com/v1.0"

	// Graph rejects simple uploads above 4 MiB.
	oneDriveSimpleUploadLimit = 4 << 20
	// Session fragments must be a multiple of 320 KiB.
	oneDriveFragmentSize = 24 * (320 << 10)
)

// OneDriveAPI talks to the Microsoft Graph drive endpoints.
type OneDriveAPI struct {
	client  *http.Client
	baseURL string
}

func NewOneDriveAPI(client *http.Client, baseURL string) *OneDriveAPI {
	if client == nil {
		client = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = DefaultOneDriveAPI
	}
	return &OneDriveAPI{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

func (o *OneDriveAPI) itemPath(name string) string {
	return o.baseURL + "/me/drive/root:/" + escapeSegments(name) + ":"
}

func escapeSegments(name string) string {
	parts := strings.Split(name, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func (o *OneDriveAPI) Upload(ctx context.Context, token, name string, data []byte) (string, error) {
	if len(data) <= oneDriveSimpleUploadLimit {
		return o.simpleUpload(ctx, token, name, data)
	}
	return o.sessionUpload(ctx, token, name, data)
}

func (o *OneDriveAPI) simpleUpload(ctx context.Context, token, name string, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, o.itemPath(name)+"/content", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := doRequest(ctx, o.client, req, http.StatusOK, http.StatusCreated)
	if err != nil {
		return "", err
	}
	return decodeItemID(ctx, resp)
}

type uploadSession struct {
	UploadURL string `json:"uploadUrl"`
}

func (o *OneDriveAPI) sessionUpload(ctx context.Context, token, name string, data []byte) (string, error) {
	body := strings.NewReader(`{"item":{"@microsoft.graph.conflictBehavior":"replace"}}`)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.itemPath(name)+"/createUploadSession", body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := doRequest(ctx, o.client, req, http.StatusOK)
	if err != nil {
		return "", err
	}
	raw, err := readBody(ctx, resp)
	if err != nil {
		return "", err
	}
	var session uploadSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return "", fmt.Errorf("decode upload session: %w", err)
	}
	if session.UploadURL == "" {
		return "", errors.New("upload session has no uploadUrl")
	}

	total := len(data)
	for start := 0; start < total; start += oneDriveFragmentSize {
		end := min(start+oneDriveFragmentSize, total)

		// The upload URL is pre-authenticated and must not carry a bearer token.
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, session.UploadURL, bytes.NewReader(data[start:end]))
		if err != nil {
			return "", err
		}
		req.ContentLength = int64(end - start)
		req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end-1, total))

		resp, err := doRequest(ctx, o.client, req, http.StatusAccepted, http.StatusOK, http.StatusCreated)
		if err != nil {
			return "", err
		}
		if end == total {
			return decodeItemID(ctx, resp)
		}
		resp.Body.Close()
	}
	return "", errors.New("upload session ended without an item")
}

func (o *OneDriveAPI) Download(ctx context.Context, token, id string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/me/drive/items/"+url.PathEscape(id)+"/content", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := doRequest(ctx, o.client, req, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return readBody(ctx, resp)
}

func (o *OneDriveAPI) Delete(ctx context.Context, token, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, o.baseURL+"/me/drive/items/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := doRequest(ctx, o.client, req, http.StatusNoContent, http.StatusOK)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}
