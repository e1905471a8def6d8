package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"oras.land/oras-go/v2/registry/remote/errcode"

	"github.com/meigma/appoci/content"
	"github.com/meigma/appoci/registry/oras"
)

// classified errors are returned unchanged by mapOCIError.
var classified = []error{
	ErrNotFound, ErrInvalidReference, ErrInvalidManifest, ErrIntegrityMismatch,
	ErrTransient, ErrTransferFailed, ErrUnauthorized, ErrForbidden, ErrConflict,
}

// mapOCIError translates low-level OCI errors to registry sentinel errors.
//
// Context cancellation passes through untouched. Errors that fit no class
// are returned as-is and are not retried.
func mapOCIError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	for _, sentinel := range classified {
		if errors.Is(err, sentinel) {
			return err
		}
	}

	switch {
	case errors.Is(err, oras.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, oras.ErrUnauthorized):
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	case errors.Is(err, oras.ErrForbidden):
		return fmt.Errorf("%w: %w", ErrForbidden, err)
	case errors.Is(err, oras.ErrInvalidReference):
		return fmt.Errorf("%w: %w", ErrInvalidReference, err)
	case errors.Is(err, oras.ErrManifestTooLarge):
		return fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	case errors.Is(err, content.ErrDigestMismatch), errors.Is(err, content.ErrSizeMismatch):
		return fmt.Errorf("%w: %w", ErrIntegrityMismatch, err)
	}

	var errResp *errcode.ErrorResponse
	if errors.As(err, &errResp) {
		return mapErrorResponse(errResp, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return err
}

// mapErrorResponse classifies a registry HTTP error response.
func mapErrorResponse(resp *errcode.ErrorResponse, err error) error {
	for _, e := range resp.Errors {
		switch e.Code {
		case "DIGEST_INVALID", "SIZE_INVALID":
			return fmt.Errorf("%w: %w", ErrIntegrityMismatch, err)
		case "MANIFEST_INVALID", "MANIFEST_BLOB_UNKNOWN":
			return fmt.Errorf("%w: %w", ErrInvalidManifest, err)
		}
	}
	switch code := resp.StatusCode; {
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case code == http.StatusUnauthorized:
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	case code == http.StatusForbidden:
		return fmt.Errorf("%w: %w", ErrForbidden, err)
	case code == http.StatusConflict:
		return fmt.Errorf("%w: %w", ErrConflict, err)
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return err
}
