package opencv

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/nekzampe/surveillance-indexer/internal/config"
	"github.com/nekzampe/surveillance-indexer/internal/pipeline"
	"github.com/nekzampe/surveillance-indexer/internal/tracking"
	"github.com/nekzampe/surveillance-indexer/internal/video"
)

// DarknetConfig locates a Darknet model and sets its thresholds.
type DarknetConfig struct {
	ConfigPath  string // yolov3-tiny.cfg
	WeightsPath string // yolov3-tiny.weights
	NamesPath   string // coco.names

	InputSize           int     // square network input, default 416
	ConfidenceThreshold float32 // default 0.5
	NMSThreshold        float32 // default 0.4
}

// DarknetConfigFromIndexer fills the thresholds from the indexer config.
func DarknetConfigFromIndexer(cfg *config.IndexerConfig, modelCfg, weights, names string) DarknetConfig {
	return DarknetConfig{
		ConfigPath:          modelCfg,
		WeightsPath:         weights,
		NamesPath:           names,
		InputSize:           cfg.GetInputSize(),
		ConfidenceThreshold: float32(cfg.GetConfidenceThreshold()),
		NMSThreshold:        float32(cfg.GetNMSThreshold()),
	}
}

// DarknetDetector runs a YOLO network loaded from Darknet files.
// It is not safe for concurrent use.
type DarknetDetector struct {
	net         gocv.Net
	outputNames []string
	classNames  []string
	cfg         DarknetConfig
}

// NewDarknetDetector loads the network and class names.
func NewDarknetDetector(cfg DarknetConfig) (*DarknetDetector, error) {
	if cfg.InputSize <= 0 {
		cfg.InputSize = 416
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.5
	}
	if cfg.NMSThreshold <= 0 {
		cfg.NMSThreshold = 0.4
	}

	names, err := video.LoadClassNames(cfg.NamesPath)
	if err != nil {
		return nil, err
	}
	net := gocv.ReadNetFromDarknet(cfg.ConfigPath, cfg.WeightsPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load darknet model %s / %s", cfg.ConfigPath, cfg.WeightsPath)
	}
	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return nil, fmt.Errorf("failed to set backend: %w", err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, fmt.Errorf("failed to set target: %w", err)
	}

	layers := net.GetLayerNames()
	var outputs []string
	for _, id := range net.GetUnconnectedOutLayers() {
		outputs = append(outputs, layers[id-1])
	}
	return &DarknetDetector{net: net, outputNames: outputs, classNames: names, cfg: cfg}, nil
}

// ClassNames returns the model's class names indexed by class id.
func (d *DarknetDetector) ClassNames() []string {
	return append([]string(nil), d.classNames...)
}

// Detect implements pipeline.Detector for frames decoded by CaptureSource.
func (d *DarknetDetector) Detect(frame pipeline.Frame) ([]tracking.Detection, error) {
	f, ok := frame.(*Frame)
	if !ok {
		return nil, fmt.Errorf("unsupported frame type %T", frame)
	}
	return d.DetectMat(f.Mat)
}

// DetectMat runs the network on img and returns the detections left after
// non-max suppression.
func (d *DarknetDetector) DetectMat(img gocv.Mat) ([]tracking.Detection, error) {
	if img.Empty() {
		return nil, errors.New("empty frame")
	}
	size := image.Pt(d.cfg.InputSize, d.cfg.InputSize)
	blob := gocv.BlobFromImage(img, 1.0/255.0, size, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	outs := d.net.ForwardLayers(d.outputNames)
	defer func() {
		for i := range outs {
			outs[i].Close()
		}
	}()

	var (
		candidates []tracking.Detection
		boxes      []image.Rectangle
		scores     []float32
	)
	for _, out := range outs {
		data, err := out.DataPtrFloat32()
		if err != nil {
			return nil, fmt.Errorf("failed to read network output: %w", err)
		}
		cols := out.Cols()
		for r := 0; r < out.Rows(); r++ {
			det, ok := video.DecodeYOLORow(data[r*cols:(r+1)*cols], img.Cols(), img.Rows(), d.classNames, d.cfg.ConfidenceThreshold)
			if !ok {
				continue
			}
			candidates = append(candidates, det)
			boxes = append(boxes, image.Rect(det.Box.X, det.Box.Y, det.Box.X+det.Box.W, det.Box.Y+det.Box.H))
			scores = append(scores, det.Confidence)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	keep := gocv.NMSBoxes(boxes, scores, d.cfg.ConfidenceThreshold, d.cfg.NMSThreshold)
	dets := make([]tracking.Detection, 0, len(keep))
	for _, i := range keep {
		dets = append(dets, candidates[i])
	}
	return dets, nil
}

// Close releases the network.
func (d *DarknetDetector) Close() error {
	return d.net.Close()
}
