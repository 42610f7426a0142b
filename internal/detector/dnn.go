package detector

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"strings"
	"sync"

	"gocv.io/x/gocv"

	"github.com/pilahsampah/pilah/internal/convert"
)

const nmsThreshold = 0.45

// DNNEngine loads YOLO-style ONNX models through OpenCV's dnn module.
type DNNEngine struct{}

// NewDNNEngine creates a new DNNEngine.
func NewDNNEngine() *DNNEngine {
	return &DNNEngine{}
}

// Open loads the model on the requested backend. For GPU, a warm-up
// forward pass verifies that the CUDA target actually runs.
func (e *DNNEngine) Open(ctx context.Context, opts Options) (Runner, error) {
	if opts.ModelPath == "" {
		return nil, errors.New("model path is required")
	}
	if _, err := os.Stat(opts.ModelPath); err != nil {
		return nil, fmt.Errorf("model file: %w", err)
	}

	labels, err := LoadLabels(opts.LabelsPath)
	if err != nil {
		return nil, err
	}

	size := opts.InputSize
	if size <= 0 {
		size = DefaultOptions().InputSize
	}

	net := gocv.ReadNet(opts.ModelPath, "")
	if net.Empty() {
		return nil, fmt.Errorf("failed to read model %s", opts.ModelPath)
	}

	switch opts.Backend {
	case BackendGPU:
		net.SetPreferableBackend(gocv.NetBackendCUDA)
		net.SetPreferableTarget(gocv.NetTargetCUDA)
		if err := warmUp(&net, size); err != nil {
			net.Close()
			return nil, fmt.Errorf("gpu backend: %w", err)
		}
	default:
		net.SetPreferableBackend(gocv.NetBackendDefault)
		net.SetPreferableTarget(gocv.NetTargetCPU)
	}

	if err := ctx.Err(); err != nil {
		net.Close()
		return nil, err
	}

	return &dnnRunner{net: net, labels: labels, size: size}, nil
}

func warmUp(net *gocv.Net, size int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("warm-up panicked: %v", r)
		}
	}()

	input := gocv.NewMatWithSize(size, size, gocv.MatTypeCV8UC3)
	defer input.Close()
	blob := gocv.BlobFromImage(input, 1.0/255.0, image.Pt(size, size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	net.SetInput(blob, "")
	out := net.Forward("")
	defer out.Close()

	if out.Empty() {
		return errors.New("warm-up inference returned empty output")
	}
	return nil
}

type dnnRunner struct {
	mu     sync.Mutex
	net    gocv.Net
	labels []string
	size   int
	closed bool
}

// Detect runs the network on img. Boxes are mapped back to img pixels.
func (r *dnnRunner) Detect(ctx context.Context, img *convert.Image, rotation int) ([]Detection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrEngineNotStarted
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rgba, err := gocv.NewMatFromBytes(img.Height, img.Width, gocv.MatTypeCV8UC4, img.Pix)
	if err != nil {
		return nil, fmt.Errorf("wrap image: %w", err)
	}
	defer rgba.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(rgba, &bgr, gocv.ColorRGBAToBGR)

	maxDim := max(img.Width, img.Height)
	square := gocv.NewMatWithSize(maxDim, maxDim, gocv.MatTypeCV8UC3)
	defer square.Close()
	square.SetTo(gocv.NewScalar(0, 0, 0, 0))

	roi := square.Region(image.Rect(0, 0, img.Width, img.Height))
	bgr.CopyTo(&roi)
	roi.Close()

	blob := gocv.BlobFromImage(square, 1.0/255.0, image.Pt(r.size, r.size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	r.net.SetInput(blob, "")
	out := r.net.Forward("")
	defer out.Close()

	if out.Empty() {
		return nil, errors.New("inference returned empty output")
	}

	scale := float32(maxDim) / float32(r.size)
	return r.parse(&out, scale, img.Width, img.Height), nil
}

// parse decodes a [1, 4+classes, anchors] output tensor.
func (r *dnnRunner) parse(out *gocv.Mat, scale float32, width, height int) []Detection {
	dims := out.Size()
	if len(dims) != 3 || dims[1] < 5 {
		return nil
	}
	rows, anchors := dims[1], dims[2]

	var (
		boxes   []image.Rectangle
		scores  []float32
		classes []int
	)
	for a := 0; a < anchors; a++ {
		best, bestScore := -1, float32(0)
		for c := 4; c < rows; c++ {
			if s := out.GetFloatAt3(0, c, a); s > bestScore {
				best, bestScore = c-4, s
			}
		}
		if best < 0 || bestScore < 0.05 {
			continue
		}

		x := out.GetFloatAt3(0, 0, a)
		y := out.GetFloatAt3(0, 1, a)
		w := out.GetFloatAt3(0, 2, a)
		h := out.GetFloatAt3(0, 3, a)

		boxes = append(boxes, image.Rect(
			int((x-w/2)*scale), int((y-h/2)*scale),
			int((x+w/2)*scale), int((y+h/2)*scale),
		))
		scores = append(scores, bestScore)
		classes = append(classes, best)
	}
	if len(boxes) == 0 {
		return nil
	}

	indices := gocv.NMSBoxes(boxes, scores, 0.05, nmsThreshold)
	bounds := image.Rect(0, 0, width, height)

	dets := make([]Detection, 0, len(indices))
	for _, i := range indices {
		b := boxes[i].Intersect(bounds)
		if b.Empty() {
			continue
		}
		dets = append(dets, Detection{
			Box: BoundingBox{
				Left:   float64(b.Min.X),
				Top:    float64(b.Min.Y),
				Right:  float64(b.Max.X),
				Bottom: float64(b.Max.Y),
			},
			Label: r.label(classes[i]),
			Score: float64(scores[i]),
		})
	}
	return dets
}

func (r *dnnRunner) label(class int) string {
	if class >= 0 && class < len(r.labels) {
		return r.labels[class]
	}
	return fmt.Sprintf("class_%d", class)
}

// Close releases the network.
func (r *dnnRunner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	return r.net.Close()
}

// LoadLabels reads one class name per line. Blank lines and lines
// starting with '#' are skipped. An empty path yields no labels.
func LoadLabels(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open labels: %w", err)
	}
	defer f.Close()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		labels = append(labels, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}
	return labels, nil
}
