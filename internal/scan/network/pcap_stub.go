//go:build !pcap
// +build !pcap

package network

import (
	"context"
	"fmt"
)

// ReplayPCAPFile is a stub when PCAP support is disabled.
// Build with -tags=pcap to enable capture replay.
func ReplayPCAPFile(ctx context.Context, pcapFile string, udpPort int, processor *Processor) error {
	return fmt.Errorf("PCAP support not enabled: rebuild with -tags=pcap to enable capture replay")
}
