package scan

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// picoScan compact format framing constants. Every telegram starts with a
// four-byte STX marker and ends with a CRC-32 (IEEE) trailer over all
// preceding bytes. Multi-byte fields are little-endian throughout.
const (
	HeaderSize  = 32
	CRCSize     = 4
	MinTelegram = HeaderSize + CRCSize

	CmdScanData = 1
	CmdImuData  = 2

	// IMU telegrams are a fixed 60-byte record plus the CRC trailer.
	imuRecordSize   = 60
	minImuTelegram  = imuRecordSize + CRCSize
	thetaFixedZero  = 16384 // raw value representing theta = 0
	thetaFixedScale = 5215  // raw units per radian
)

var stxMarker = []byte{0x02, 0x02, 0x02, 0x02}

// Decode failure sentinels. Both are local to the offending datagram: the
// caller drops it and continues with the next one.
var (
	ErrInvalidFrame    = errors.New("invalid telegram frame")
	ErrInvalidImuFrame = errors.New("invalid imu frame")
)

// TelegramHeader is the fixed 32-byte prefix shared by all telegrams.
type TelegramHeader struct {
	CommandID         uint32
	TelegramCounter   uint64
	TimestampTransmit uint64 // microseconds
	TelegramVersion   uint32
	SizeModule0       uint32
}

// ModuleMetadata describes one angular segment of a scan telegram. The
// per-line slices all have length NumberOfLinesInModule.
type ModuleMetadata struct {
	SegmentCounter        uint64
	FrameNumber           uint64
	SenderID              uint32
	NumberOfLinesInModule uint32
	NumberOfBeamsPerScan  uint32
	NumberOfEchosPerBeam  uint32
	TimestampStart        []uint64
	TimestampStop         []uint64
	Phi                   []float32
	ThetaStart            []float32
	ThetaStop             []float32
	DistanceScalingFactor float32
	NextModuleSize        uint32
	DataContentEchos      uint8
	DataContentBeams      uint8
}

// Echo is one return pulse within a beam. The Has flags mirror the module's
// dataContentEchos bits: a field is only meaningful when its flag is set.
type Echo struct {
	Distance    float64
	RSSI        uint16
	HasDistance bool
	HasRSSI     bool
}

// Measurement is one (beam, line) pair with its resolved direction.
type Measurement struct {
	LineIndex         int
	BeamIndex         int
	Phi               float64
	Theta             float64
	Echoes            []Echo
	ReflectorDetected bool
}

// Module is a parsed segment: metadata plus its measurements in beam-major,
// line-minor order.
type Module struct {
	Metadata     ModuleMetadata
	Measurements []Measurement
}

// ScanFrame is a decoded scan telegram.
type ScanFrame struct {
	Header  TelegramHeader
	Modules []Module
}

// ImuSample is a decoded inertial telegram. Acceleration is m/s², angular
// velocity rad/s, orientation a (w,x,y,z) unit quaternion from the device,
// timestamp in microseconds.
type ImuSample struct {
	TelegramVersion uint32
	Acceleration    r3.Vec
	AngularVelocity r3.Vec
	Orientation     quat.Number
	Timestamp       uint64
}

// Telegram is the result of decoding one datagram. Exactly one of Scan and
// Imu is set for the known command identifiers; both are nil for an
// unrecognized command, leaving a header-only result.
type Telegram struct {
	Header TelegramHeader
	Scan   *ScanFrame
	Imu    *ImuSample
}

// CompactParser decodes picoScan compact-format telegrams. The parser keeps
// only diagnostic frame/segment state, so one instance per sensor stream;
// it is not safe for concurrent use.
type CompactParser struct {
	frameNumber      uint64
	segmentsReceived map[uint64]struct{}
}

// NewCompactParser creates a parser for a single sensor stream.
func NewCompactParser() *CompactParser {
	return &CompactParser{segmentsReceived: make(map[uint64]struct{})}
}

// Parse validates and decodes one raw datagram. A validation failure
// returns an error wrapping ErrInvalidFrame or ErrInvalidImuFrame with no
// partial result. A scan telegram whose module chain runs out of bytes is
// not an error: the chain is truncated and the modules parsed so far are
// returned.
func (p *CompactParser) Parse(data []byte) (*Telegram, error) {
	if err := validateFrame(data); err != nil {
		return nil, err
	}

	header := parseHeader(data)
	tel := &Telegram{Header: header}

	switch header.CommandID {
	case CmdImuData:
		sample, err := parseImuSample(data)
		if err != nil {
			return nil, err
		}
		tel.Imu = sample
	case CmdScanData:
		frame := &ScanFrame{Header: header}
		frame.Modules = p.parseModuleChain(data, header.SizeModule0)
		p.trackSegments(frame.Modules)
		tel.Scan = frame
	}
	return tel, nil
}

// validateFrame enforces the outer framing: minimum length, STX marker and
// the CRC-32 trailer over everything before it.
func validateFrame(data []byte) error {
	if len(data) < MinTelegram {
		return fmt.Errorf("%w: %d bytes is below the %d byte minimum", ErrInvalidFrame, len(data), MinTelegram)
	}
	if !bytes.Equal(data[:4], stxMarker) {
		return fmt.Errorf("%w: missing start of frame marker", ErrInvalidFrame)
	}
	want := binary.LittleEndian.Uint32(data[len(data)-CRCSize:])
	got := crc32.ChecksumIEEE(data[:len(data)-CRCSize])
	if want != got {
		return fmt.Errorf("%w: crc mismatch (telegram %08x, computed %08x)", ErrInvalidFrame, want, got)
	}
	return nil
}

func parseHeader(data []byte) TelegramHeader {
	return TelegramHeader{
		CommandID:         binary.LittleEndian.Uint32(data[4:8]),
		TelegramCounter:   binary.LittleEndian.Uint64(data[8:16]),
		TimestampTransmit: binary.LittleEndian.Uint64(data[16:24]),
		TelegramVersion:   binary.LittleEndian.Uint32(data[24:28]),
		SizeModule0:       binary.LittleEndian.Uint32(data[28:32]),
	}
}

// parseImuSample decodes an inertial telegram. The IMU record carries its
// own CRC over the first 60 bytes; this check is independent of the outer
// frame validation, which covers a different byte range on longer packets,
// and both must hold.
func parseImuSample(data []byte) (*ImuSample, error) {
	if len(data) < minImuTelegram {
		return nil, fmt.Errorf("%w: %d bytes is below the %d byte minimum", ErrInvalidImuFrame, len(data), minImuTelegram)
	}
	want := binary.LittleEndian.Uint32(data[imuRecordSize : imuRecordSize+CRCSize])
	got := crc32.ChecksumIEEE(data[:imuRecordSize])
	if want != got {
		return nil, fmt.Errorf("%w: crc mismatch (telegram %08x, computed %08x)", ErrInvalidImuFrame, want, got)
	}

	r := newByteReader(data)
	r.skip(4) // STX
	r.skip(4) // command id, already dispatched on
	sample := &ImuSample{TelegramVersion: r.readUint32()}
	sample.Acceleration = r3.Vec{
		X: float64(r.readFloat32()),
		Y: float64(r.readFloat32()),
		Z: float64(r.readFloat32()),
	}
	sample.AngularVelocity = r3.Vec{
		X: float64(r.readFloat32()),
		Y: float64(r.readFloat32()),
		Z: float64(r.readFloat32()),
	}
	sample.Orientation = quat.Number{
		Real: float64(r.readFloat32()),
		Imag: float64(r.readFloat32()),
		Jmag: float64(r.readFloat32()),
		Kmag: float64(r.readFloat32()),
	}
	sample.Timestamp = r.readUint64()
	if !r.ok() {
		return nil, fmt.Errorf("%w: record shorter than declared", ErrInvalidImuFrame)
	}
	return sample, nil
}

// parseModuleChain walks the module list starting at the header boundary.
// Each module declares the size of the next one; a size of zero ends the
// chain. Any overrun of the CRC trailer or a module whose counts exceed its
// actual bytes truncates the chain without error, keeping what parsed.
func (p *CompactParser) parseModuleChain(data []byte, sizeModule0 uint32) []Module {
	var modules []Module
	offset := HeaderSize
	moduleSize := int(sizeModule0)

	for moduleSize > 0 && offset+moduleSize <= len(data)-CRCSize {
		module, ok := parseModule(data[offset : offset+moduleSize])
		if !ok {
			break
		}
		modules = append(modules, module)
		offset += moduleSize
		moduleSize = int(module.Metadata.NextModuleSize)
	}
	return modules
}

// parseModule decodes one module's metadata and measurement block. Field
// order matches the device format bit for bit. Returns ok=false when the
// module's declared counts do not fit the bytes it actually has.
func parseModule(data []byte) (Module, bool) {
	r := newByteReader(data)

	var md ModuleMetadata
	md.SegmentCounter = r.readUint64()
	md.FrameNumber = r.readUint64()
	md.SenderID = r.readUint32()
	md.NumberOfLinesInModule = r.readUint32()
	md.NumberOfBeamsPerScan = r.readUint32()
	md.NumberOfEchosPerBeam = r.readUint32()
	if !r.ok() {
		return Module{}, false
	}

	numLines := int(md.NumberOfLinesInModule)
	// Five per-line arrays follow; reject counts the remaining bytes cannot
	// hold before allocating anything.
	if numLines < 0 || r.remaining() < numLines*(8+8+4+4+4) {
		return Module{}, false
	}
	md.TimestampStart = r.readUint64Slice(numLines)
	md.TimestampStop = r.readUint64Slice(numLines)
	md.Phi = r.readFloat32Slice(numLines)
	md.ThetaStart = r.readFloat32Slice(numLines)
	md.ThetaStop = r.readFloat32Slice(numLines)

	md.DistanceScalingFactor = r.readFloat32()
	md.NextModuleSize = r.readUint32()
	r.skip(1) // reserved
	md.DataContentEchos = r.readUint8()
	md.DataContentBeams = r.readUint8()
	r.skip(1) // reserved
	if !r.ok() {
		return Module{}, false
	}

	measurements, ok := parseMeasurements(r, md)
	if !ok {
		return Module{}, false
	}
	return Module{Metadata: md, Measurements: measurements}, true
}

// parseMeasurements reads the measurement block that follows the module
// metadata: beam-major, line-minor, each with up to numberOfEchosPerBeam
// echo slots followed by the per-beam fields.
func parseMeasurements(r *byteReader, md ModuleMetadata) ([]Measurement, bool) {
	numLines := int(md.NumberOfLinesInModule)
	numBeams := int(md.NumberOfBeamsPerScan)
	numEchos := int(md.NumberOfEchosPerBeam)
	scaling := float64(md.DistanceScalingFactor)

	hasDistance := md.DataContentEchos&0x01 != 0
	hasRSSI := md.DataContentEchos&0x02 != 0
	hasProperties := md.DataContentBeams&0x01 != 0
	hasTheta := md.DataContentBeams&0x02 != 0

	perBeam := 0
	if hasDistance {
		perBeam += 2
	}
	if hasRSSI {
		perBeam += 2
	}
	perBeam *= numEchos
	if hasProperties {
		perBeam++
	}
	if hasTheta {
		perBeam += 2
	}
	if perBeam == 0 {
		// No per-beam fields are encoded, so the counts say nothing about
		// the bytes that follow. Keep the module with no measurements.
		return nil, true
	}
	// Counts come off the wire; bound the product by the bytes actually
	// present before allocating. Division avoids overflow in the bound check.
	total := uint64(numBeams) * uint64(numLines)
	if total > uint64(r.remaining())/uint64(perBeam) {
		return nil, false
	}

	measurements := make([]Measurement, 0, int(total))
	for beamIdx := 0; beamIdx < numBeams; beamIdx++ {
		for lineIdx := 0; lineIdx < numLines; lineIdx++ {
			m := Measurement{
				LineIndex: lineIdx,
				BeamIndex: beamIdx,
				Phi:       float64(md.Phi[lineIdx]),
			}
			if numEchos > 0 {
				m.Echoes = make([]Echo, 0, numEchos)
			}
			for echoIdx := 0; echoIdx < numEchos; echoIdx++ {
				var echo Echo
				if hasDistance {
					echo.Distance = float64(r.readUint16()) * scaling
					echo.HasDistance = true
				}
				if hasRSSI {
					echo.RSSI = r.readUint16()
					echo.HasRSSI = true
				}
				m.Echoes = append(m.Echoes, echo)
			}
			if hasProperties {
				m.ReflectorDetected = r.readUint8()&0x01 != 0
			}
			if hasTheta {
				m.Theta = float64(int(r.readUint16())-thetaFixedZero) / thetaFixedScale
			} else {
				m.Theta = interpolateTheta(
					float64(md.ThetaStart[lineIdx]),
					float64(md.ThetaStop[lineIdx]),
					beamIdx, numBeams)
			}
			measurements = append(measurements, m)
		}
	}
	if !r.ok() {
		return nil, false
	}
	return measurements, true
}

// interpolateTheta resolves a beam's azimuth linearly between the line's
// start and stop angles. A single-beam module has no interval to
// interpolate over and resolves to thetaStart.
func interpolateTheta(thetaStart, thetaStop float64, beamIdx, numBeams int) float64 {
	if numBeams <= 1 {
		return thetaStart
	}
	return thetaStart + (thetaStop-thetaStart)*float64(beamIdx)/float64(numBeams-1)
}

// trackSegments maintains the per-frame segment diagnostics. A frame number
// change logs the completed frame and clears the tracked set. This is
// observability only; parsing does not depend on it.
func (p *CompactParser) trackSegments(modules []Module) {
	if len(modules) == 0 {
		return
	}
	md := modules[0].Metadata
	if md.FrameNumber != p.frameNumber {
		if p.frameNumber > 0 {
			debugf("completed frame %d with %d segments", p.frameNumber, len(p.segmentsReceived))
		}
		p.frameNumber = md.FrameNumber
		p.segmentsReceived = make(map[uint64]struct{})
	}
	p.segmentsReceived[md.SegmentCounter] = struct{}{}
}
