package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
)

// NodeDevice is a capture device exposed as a device node (a V4L2 camera
// under /dev/video*, an ALSA PCM under /dev/snd/*). Requesting it opens the
// node, which is where the platform enforces permission. Video nodes are
// held open until the track is stopped. ALSA capture substreams are
// exclusive, so audio nodes are closed as soon as the open succeeds and
// the encoder gets the substream to itself.
type NodeDevice struct {
	kind   Kind
	path   string
	format string
	source string
}

func NewNodeDevice(kind Kind, path, format, source string) *NodeDevice {
	if source == "" {
		source = path
	}
	return &NodeDevice{kind: kind, path: path, format: format, source: source}
}

func (d *NodeDevice) Kind() Kind { return d.kind }

func (d *NodeDevice) Request(ctx context.Context) (Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.path == "" {
		return nil, ErrDeviceUnavailable
	}

	f, err := os.OpenFile(d.path, os.O_RDONLY|syscall.O_NONBLOCK, 0)
	if err != nil {
		return nil, classifyOpenError(d.path, err)
	}
	if d.kind == KindAudio {
		if err := f.Close(); err != nil {
			return nil, fmt.Errorf("close %s: %w: %v", d.path, ErrDeviceUnavailable, err)
		}
		f = nil
	}

	return &nodeTrack{
		kind:  d.kind,
		label: d.path,
		input: Input{Format: d.format, Source: d.source},
		file:  f,
	}, nil
}

// NewALSADevice returns an audio NodeDevice that ffmpeg reads as the ALSA
// device name (hw:1,0) while the permission check opens node. An empty
// node is derived from name.
func NewALSADevice(name, node string) (*NodeDevice, error) {
	if node == "" {
		var ok bool
		if node, ok = ALSANode(name); !ok {
			return nil, fmt.Errorf("alsa device %q has no device node, set audio_node: %w", name, ErrDeviceUnavailable)
		}
	}
	return NewNodeDevice(KindAudio, node, "alsa", name), nil
}

// ALSANode maps an ALSA hardware name (hw:1,0, plughw:1 or hw:CARD=1,DEV=0)
// to its capture PCM node under /dev/snd.
func ALSANode(name string) (string, bool) {
	plugin, rest, found := strings.Cut(name, ":")
	if !found {
		return "", false
	}
	switch plugin {
	case "hw", "plughw":
	default:
		return "", false
	}

	parts := strings.Split(rest, ",")
	if len(parts) > 2 {
		return "", false
	}
	nums := []int{0, 0}
	for i, p := range parts {
		if _, v, ok := strings.Cut(p, "="); ok {
			p = v
		}
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 {
			return "", false
		}
		nums[i] = n
	}
	return fmt.Sprintf("/dev/snd/pcmC%dD%dc", nums[0], nums[1]), true
}

func classifyOpenError(path string, err error) error {
	switch {
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("open %s: %w", path, ErrPermissionDenied)
	case errors.Is(err, os.ErrNotExist),
		errors.Is(err, syscall.ENODEV),
		errors.Is(err, syscall.ENXIO),
		errors.Is(err, syscall.EBUSY):
		return fmt.Errorf("open %s: %w", path, ErrDeviceUnavailable)
	default:
		return fmt.Errorf("open %s: %w: %v", path, ErrDeviceUnavailable, err)
	}
}

type nodeTrack struct {
	kind  Kind
	label string
	input Input

	once sync.Once
	file *os.File
	err  error
}

func (t *nodeTrack) Kind() Kind    { return t.kind }
func (t *nodeTrack) Label() string { return t.label }
func (t *nodeTrack) Input() Input  { return t.input }

// Stop releases the node if it is still held. The encoder reads the device
// through its own handle.
func (t *nodeTrack) Stop() error {
	t.once.Do(func() {
		if t.file != nil {
			t.err = t.file.Close()
		}
	})
	return t.err
}
