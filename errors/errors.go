// Copyright 2023 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package errors

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// The error taxonomy of the metadata protocol. Every sentinel maps to a
// distinct wire variant; ServerRedirection is not part of the taxonomy
// because it travels as a bitmap field in responses, not as an error.
var (
	ErrIllegalPath         = errors.New("illegal path")
	ErrFileNotFound        = errors.New("no such file or directory")
	ErrParentPathNotFound  = errors.New("parent path not found")
	ErrNotADirectory       = errors.New("not a directory")
	ErrFileAlreadyExist    = errors.New("file already exists")
	ErrIOError             = errors.New("io error")
	ErrFileNotInSameServer = errors.New("entries not in the same server")

	// ErrTooManyRedirections is raised locally by the client once the
	// redirect retry cap is exhausted. It never crosses the wire.
	ErrTooManyRedirections = errors.New("too many redirections")
)

var rpcCodes = map[error]codes.Code{
	ErrIllegalPath:         codes.InvalidArgument,
	ErrFileNotFound:        codes.NotFound,
	ErrParentPathNotFound:  codes.NotFound,
	ErrNotADirectory:       codes.FailedPrecondition,
	ErrFileAlreadyExist:    codes.AlreadyExists,
	ErrIOError:             codes.Internal,
	ErrFileNotInSameServer: codes.Unimplemented,
}

var rpcSentinels = func() map[string]error {
	m := make(map[string]error, len(rpcCodes))
	for err := range rpcCodes {
		m[err.Error()] = err
	}
	return m
}()

// ToRPCError converts a handler error into the grpc status carried on the
// wire. Unknown errors are flattened into ErrIOError so the client side
// never sees raw store or transport internals.
func ToRPCError(err error) error {
	if err == nil {
		return nil
	}
	for sentinel, code := range rpcCodes {
		if errors.Is(err, sentinel) {
			return status.Error(code, sentinel.Error())
		}
	}
	return status.Error(codes.Internal, ErrIOError.Error())
}

// FromRPCError maps a grpc client error back onto the taxonomy. Transport
// failures that carry no known sentinel surface as ErrIOError.
func FromRPCError(err error) error {
	if err == nil {
		return nil
	}
	s, ok := status.FromError(err)
	if !ok {
		return ErrIOError
	}
	if sentinel, ok := rpcSentinels[s.Message()]; ok {
		return sentinel
	}
	return ErrIOError
}
