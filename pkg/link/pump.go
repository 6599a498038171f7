// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"context"
	"fmt"
	"io"
)

// readBufferSize matches a generous BLE notification payload
const readBufferSize = 256

// maxReadErrors is how many consecutive read errors Pump tolerates
const maxReadErrors = 10

// Pump copies bytes from r into dst until r is closed or ctx is done.
// Chunk boundaries are whatever the link delivers. onChunk, when set, runs
// after each chunk has been written to dst.
//
// Read cannot be interrupted; close the connection to stop a blocked Pump.
func Pump(ctx context.Context, r io.Reader, dst io.Writer, onChunk func()) error {
	buf := make([]byte, readBufferSize)
	failures := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := r.Read(buf)
		if n > 0 {
			failures = 0
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return fmt.Errorf("pump: %w", werr)
			}
			if onChunk != nil {
				onChunk()
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if IsClosed(err) {
				return nil
			}
			failures++
			if failures >= maxReadErrors {
				return fmt.Errorf("pump: read: %w", err)
			}
		}
	}
}
