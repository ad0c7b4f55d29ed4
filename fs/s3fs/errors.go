package s3fs

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/jeffh/u9p/ninep"
)

func isNotFound(err error) bool {
	var (
		nsk *types.NoSuchKey
		nf  *types.NotFound
	)
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}
	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

// mapError turns S3 error codes into the errors the server maps to errnos.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		return fmt.Errorf("%w: %s", fs.ErrNotExist, err)
	}
	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "AccessDenied", "AllAccessDisabled":
			return fmt.Errorf("%w: %s", ninep.ErrInvalidAccess, err)
		case "NoSuchBucket":
			return fmt.Errorf("%w: %s", fs.ErrNotExist, err)
		case "PreconditionFailed":
			return fmt.Errorf("%w: %s", fs.ErrExist, err)
		}
	}
	return err
}
