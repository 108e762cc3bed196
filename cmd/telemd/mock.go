package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"telemetry/pkg/logging"
	"telemetry/pkg/protocol"
)

const (
	mockRollAmplitudeRad  = 35.0 * math.Pi / 180.0
	mockPitchAmplitudeRad = 25.0 * math.Pi / 180.0
	mockYawAmplitudeRad   = 40.0 * math.Pi / 180.0

	mockRollFreqHz  = 0.23
	mockPitchFreqHz = 0.31
	mockYawFreqHz   = 0.17

	mockRollPhaseRad  = 0.0
	mockPitchPhaseRad = math.Pi / 3.0
	mockYawPhaseRad   = 2.0 * math.Pi / 3.0
)

const (
	mockRollID  uint8 = 0x10
	mockPitchID uint8 = 0x11
	mockYawID   uint8 = 0x12
	mockQuatID  uint8 = 0x20
	mockTicksID uint8 = 0x30
	mockLEDID   uint8 = 0x31
)

func (a *app) mockCmd() *cobra.Command {
	var (
		addr        string
		hz          int
		headerEvery time.Duration
	)
	cmd := &cobra.Command{
		Use:   "mock",
		Short: "Simulate a device on a TCP port: attitude telemetry plus a settable LED channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", addr, err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			dev := newMockDevice(hz, headerEvery, logging.New("mock"))
			fmt.Fprintf(a.stdout, "mock device listening on %s\n", ln.Addr())
			return dev.serve(ctx, ln)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:19021", "TCP address to listen on")
	cmd.Flags().IntVar(&hz, "hz", 50, "data packets per second")
	cmd.Flags().DurationVar(&headerEvery, "header-every", 5*time.Second, "re-announce the header at this interval")
	return cmd
}

// mockDevice plays the device side of the protocol: it announces its
// channels, streams values and applies set commands from the host.
type mockDevice struct {
	ctx         *protocol.Context
	defs        []protocol.Definition
	interval    time.Duration
	headerEvery time.Duration
	log         zerolog.Logger
	start       time.Time
}

func mockDefinitions() []protocol.Definition {
	angle := func(id uint8, name, display string) protocol.Definition {
		return &protocol.Numeric{
			Base:          protocol.Base{DataID: id, InternalName: name, DisplayName: display, Units: "rad"},
			NumericFormat: protocol.NumericFormat{Subtype: protocol.SubtypeFloat, Length: 4},
		}
	}
	return []protocol.Definition{
		angle(mockRollID, "roll", "Roll"),
		angle(mockPitchID, "pitch", "Pitch"),
		angle(mockYawID, "yaw", "Yaw"),
		&protocol.NumericArray{
			Base:          protocol.Base{DataID: mockQuatID, InternalName: "quat", DisplayName: "Attitude (w x y z)"},
			NumericFormat: protocol.NumericFormat{Subtype: protocol.SubtypeFloat, Length: 4},
			Count:         4,
		},
		&protocol.Numeric{
			Base:          protocol.Base{DataID: mockTicksID, InternalName: "ticks", DisplayName: "Uptime", Units: "ms"},
			NumericFormat: protocol.NumericFormat{Subtype: protocol.SubtypeUInt, Length: 4},
		},
		&protocol.Numeric{
			Base:          protocol.Base{DataID: mockLEDID, InternalName: "led", DisplayName: "Status LED"},
			NumericFormat: protocol.NumericFormat{Subtype: protocol.SubtypeUInt, Length: 1},
		},
	}
}

func newMockDevice(hz int, headerEvery time.Duration, log zerolog.Logger) *mockDevice {
	if hz <= 0 {
		hz = 50
	}
	defs := mockDefinitions()
	ctx, err := protocol.NewContext(defs)
	if err != nil {
		panic(err)
	}
	return &mockDevice{
		ctx:         ctx,
		defs:        defs,
		interval:    time.Second / time.Duration(hz),
		headerEvery: headerEvery,
		log:         log,
		start:       time.Now(),
	}
}

func (d *mockDevice) headerFrame(seq uint8) ([]byte, error) {
	body, err := protocol.EncodeHeader(seq, d.defs)
	if err != nil {
		return nil, err
	}
	return protocol.Frame(body)
}

func (d *mockDevice) dataFrame(seq uint8, elapsed time.Duration) ([]byte, error) {
	t := elapsed.Seconds()
	roll, pitch, yaw := mockEulerAngles(t)
	led, _ := d.ctx.Latest(mockLEDID)
	if led == nil {
		led = uint8(0)
	}
	body, err := protocol.EncodeData(seq, d.ctx, []protocol.Sample{
		{DataID: mockRollID, Value: roll},
		{DataID: mockPitchID, Value: pitch},
		{DataID: mockYawID, Value: yaw},
		{DataID: mockQuatID, Value: mockQuaternion(t)},
		{DataID: mockTicksID, Value: uint32(elapsed.Milliseconds())},
		{DataID: mockLEDID, Value: led},
	})
	if err != nil {
		return nil, err
	}
	return protocol.Frame(body)
}

func (d *mockDevice) serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		d.log.Info().Str("remote", conn.RemoteAddr().String()).Msg("host connected")
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.handleConn(ctx, conn)
		}()
	}
}

func (d *mockDevice) handleConn(ctx context.Context, conn net.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(b []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_, err := conn.Write(b)
		return err
	}

	go func() {
		defer cancel()
		d.readCommands(conn, write)
	}()

	if err := write([]byte("mock device ready\r\n")); err != nil {
		return
	}

	var seq uint8
	next := func() uint8 {
		seq++
		return seq
	}
	frame, err := d.headerFrame(next())
	if err != nil || write(frame) != nil {
		return
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	lastHeader := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if d.headerEvery > 0 && now.Sub(lastHeader) >= d.headerEvery {
				if frame, err = d.headerFrame(next()); err == nil {
					err = write(frame)
				}
				if err != nil {
					return
				}
				lastHeader = now
			}
			frame, err = d.dataFrame(next(), now.Sub(d.start))
			if err != nil {
				d.log.Error().Err(err).Msg("encode data")
				return
			}
			if write(frame) != nil {
				return
			}
		}
	}
}

// readCommands applies set commands from the host until the connection ends.
// Each applied command is acknowledged with a line of device text.
func (d *mockDevice) readCommands(conn net.Conn, write func([]byte) error) {
	dec := protocol.NewDeserializer(
		protocol.WithLogger(d.log),
		protocol.WithBodyHandler(func(body []byte) error {
			samples, err := protocol.DecodeSet(body, d.ctx)
			if err != nil {
				return err
			}
			for _, s := range samples {
				def, _ := d.ctx.Definition(s.DataID)
				d.log.Info().Str("name", def.Meta().InternalName).Interface("value", s.Value).Msg("set applied")
				_ = write([]byte(fmt.Sprintf("set %s = %v\r\n", def.Meta().InternalName, s.Value)))
			}
			return nil
		}),
	)
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			dec.ProcessEvents(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func mockEulerAngles(t float64) (roll float64, pitch float64, yaw float64) {
	roll = mockRollAmplitudeRad * math.Sin(2.0*math.Pi*mockRollFreqHz*t+mockRollPhaseRad)
	pitch = mockPitchAmplitudeRad * math.Sin(2.0*math.Pi*mockPitchFreqHz*t+mockPitchPhaseRad)
	yaw = mockYawAmplitudeRad * math.Sin(2.0*math.Pi*mockYawFreqHz*t+mockYawPhaseRad)
	return
}

// mockQuaternion returns w, x, y, z for the attitude at t.
func mockQuaternion(t float64) []float32 {
	roll, pitch, yaw := mockEulerAngles(t)
	cr := math.Cos(roll * 0.5)
	sr := math.Sin(roll * 0.5)
	cp := math.Cos(pitch * 0.5)
	sp := math.Sin(pitch * 0.5)
	cy := math.Cos(yaw * 0.5)
	sy := math.Sin(yaw * 0.5)

	// ZYX intrinsic rotation (yaw -> pitch -> roll).
	w := cr*cp*cy + sr*sp*sy
	x := sr*cp*cy - cr*sp*sy
	y := cr*sp*cy + sr*cp*sy
	z := cr*cp*sy - sr*sp*cy

	norm := math.Sqrt(w*w + x*x + y*y + z*z)
	if norm == 0 {
		return []float32{1, 0, 0, 0}
	}
	inv := 1.0 / norm
	return []float32{float32(w * inv), float32(x * inv), float32(y * inv), float32(z * inv)}
}
