package script

import (
	"fmt"

	"github.com/pithecene-io/opfsx/types"
)

// Build returns the body for a request.
func Build(req types.Request) (string, error) {
	switch req.Op {
	case types.OpList:
		return List(req.Path(0)), nil
	case types.OpRead:
		return Read(req.Path(0)), nil
	case types.OpReadWithMetadata:
		return ReadWithMetadata(req.Path(0)), nil
	case types.OpReadBase64:
		return ReadBase64(req.Path(0)), nil
	case types.OpWrite:
		return Write(req.Path(0), req.Content, req.IsBinary), nil
	case types.OpRename:
		return Rename(req.Path(0), req.Path(1)), nil
	case types.OpMove:
		return Move(req.Path(0), req.Path(1)), nil
	case types.OpCreate:
		kind := req.Kind
		if kind == "" {
			kind = types.KindFile
		}
		if kind != types.KindFile && kind != types.KindDirectory {
			return "", fmt.Errorf("invalid entry kind %q", kind)
		}
		return Create(req.Path(0), kind), nil
	case types.OpDelete:
		return Delete(req.Path(0)), nil
	case types.OpDownload:
		return Download(req.Path(0)), nil
	case types.OpStorageEstimate:
		return StorageEstimate(), nil
	case types.OpExists:
		return Exists(req.Path(0)), nil
	default:
		return "", fmt.Errorf("unknown operation %q", req.Op)
	}
}
