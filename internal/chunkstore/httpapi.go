package chunkstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dmitrijs2005/chunkvault/internal/common"
)

// classifyStatus maps an unexpected HTTP status onto the error taxonomy.
func classifyStatus(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	detail := fmt.Sprintf("status %d: %s", resp.StatusCode, body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", common.ErrorNotFound, detail)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", common.ErrAuth, detail)
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooEarly,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s", common.ErrTransient, detail)
	default:
		return errors.New(detail)
	}
}

// doRequest sends req and returns the response when its status is one of ok.
// Transport failures are transient unless the context ended.
func doRequest(ctx context.Context, client *http.Client, req *http.Request, ok ...int) (*http.Response, error) {
	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", common.ErrTransient, err)
	}
	for _, code := range ok {
		if resp.StatusCode == code {
			return resp, nil
		}
	}
	defer resp.Body.Close()
	return nil, classifyStatus(resp)
}

func readBody(ctx context.Context, resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: read body: %v", common.ErrTransient, err)
	}
	return data, nil
}

type itemID struct {
	ID string `json:"id"`
}

func decodeItemID(ctx context.Context, resp *http.Response) (string, error) {
	body, err := readBody(ctx, resp)
	if err != nil {
		return "", err
	}
	var item itemID
	if err := json.Unmarshal(body, &item); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if item.ID == "" {
		return "", errors.New("upload response has no id")
	}
	return item.ID, nil
}
