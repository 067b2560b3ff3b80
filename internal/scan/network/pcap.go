//go:build pcap
// +build pcap

package network

import (
	"context"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/echerrman/picoscan/internal/monitoring"
)

// ReplayPCAPFile feeds recorded sensor telegrams from a PCAP capture
// through the same processor as live traffic. Only available when building
// with the 'pcap' tag.
func ReplayPCAPFile(ctx context.Context, pcapFile string, udpPort int, processor *Processor) error {
	handle, err := pcap.OpenOffline(pcapFile)
	if err != nil {
		return fmt.Errorf("failed to open PCAP file %s: %w", pcapFile, err)
	}
	defer handle.Close()

	filterStr := fmt.Sprintf("udp port %d", udpPort)
	if err := handle.SetBPFFilter(filterStr); err != nil {
		return fmt.Errorf("failed to set BPF filter %q: %w", filterStr, err)
	}
	monitoring.Logf("PCAP BPF filter set: %s", filterStr)

	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
	packetCount := 0

	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("PCAP replay stopping on cancellation (processed %d packets)", packetCount)
			return ctx.Err()
		case packet := <-packetSource.Packets():
			if packet == nil {
				monitoring.Logf("PCAP replay complete: %d packets processed", packetCount)
				return nil
			}
			packetCount++

			udpLayer := packet.Layer(layers.LayerTypeUDP)
			if udpLayer == nil {
				continue
			}
			udp, ok := udpLayer.(*layers.UDP)
			if !ok || len(udp.Payload) == 0 {
				continue
			}

			processor.HandleTelegram(udp.Payload)
		}
	}
}
