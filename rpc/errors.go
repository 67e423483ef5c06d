package rpc

import "github.com/doevelopper/Clusterlib/clerr"

func errMalformed(format string, args ...any) error {
	return clerr.Newf(clerr.JSONRPCInvocation, format, args...)
}
