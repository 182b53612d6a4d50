//go:build gocv

package vision

import (
	"fmt"
	"image"
	"image/color"
	"os"

	"gocv.io/x/gocv"
)

// haarScaleFactor matches facedetect.c's fixed 1.1 scale step between
// detection passes.
const haarScaleFactor = 1.1

// magenta and blue are the exact BGR annotation colors from facedetect.c's
// draw_faces (cvScalar(255, 0, 255, 0) and cvScalar(255, 0, 0, 0)); gocv
// colors are RGBA so the channel order is swapped accordingly.
var (
	faceColor = color.RGBA{R: 255, G: 0, B: 255, A: 0}
	eyeColor  = color.RGBA{R: 0, G: 0, B: 255, A: 0}
)

const lineThickness = 4

// openCascade is a hook for tests.
var openCascade = func(path string) (gocv.CascadeClassifier, error) {
	c := gocv.NewCascadeClassifier()
	if !c.Load(path) {
		c.Close()
		return gocv.CascadeClassifier{}, fmt.Errorf("vision: load cascade %q", path)
	}
	return c, nil
}

// CascadeDetector is the OpenCV-backed Detector. ScratchPath, when
// non-empty, round-trips image bytes through a file on disk the way
// facedetect.c's create_frame does; when empty, images are decoded
// straight out of memory with gocv.IMDecode.
type CascadeDetector struct {
	faceCascade gocv.CascadeClassifier
	eyeCascade  gocv.CascadeClassifier
	ScratchPath string
}

// NewCascadeDetector loads the face and eye Haar cascade XML files,
// mirroring facedetect.c's init_cascades.
func NewCascadeDetector(faceCascadePath, eyeCascadePath, scratchPath string) (*CascadeDetector, error) {
	face, err := openCascade(faceCascadePath)
	if err != nil {
		return nil, fmt.Errorf("vision: face cascade: %w", err)
	}
	eye, err := openCascade(eyeCascadePath)
	if err != nil {
		face.Close()
		return nil, fmt.Errorf("vision: eye cascade: %w", err)
	}
	return &CascadeDetector{faceCascade: face, eyeCascade: eye, ScratchPath: scratchPath}, nil
}

// Close releases the underlying cascade classifiers.
func (d *CascadeDetector) Close() {
	d.faceCascade.Close()
	d.eyeCascade.Close()
}

func (d *CascadeDetector) decode(buf []byte, flags gocv.IMReadFlag) (gocv.Mat, error) {
	if d.ScratchPath == "" {
		img, err := gocv.IMDecode(buf, flags)
		if err != nil || img.Empty() {
			return gocv.Mat{}, fmt.Errorf("decode: %w", err)
		}
		return img, nil
	}
	if err := os.WriteFile(d.ScratchPath, buf, 0o644); err != nil {
		return gocv.Mat{}, fmt.Errorf("scratch write: %w", err)
	}
	img := gocv.IMRead(d.ScratchPath, flags)
	if img.Empty() {
		return gocv.Mat{}, fmt.Errorf("scratch read: decode failed")
	}
	return img, nil
}

func (d *CascadeDetector) encode(img gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(".jpg", img)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	defer buf.Close()
	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}

// Detect implements Detector.Detect: grayscale+equalize, Haar face
// detection, per-face ellipse annotation, per-face eye detection/circle
// annotation when exactly two eyes are found, matching facedetect.c's
// find_faces/draw_faces.
func (d *CascadeDetector) Detect(primary []byte) (Result, error) {
	frame, err := d.decode(primary, gocv.IMReadColor)
	if err != nil {
		return Result{}, classify(nil, true)
	}
	defer frame.Close()

	grey := gocv.NewMat()
	defer grey.Close()
	gocv.CvtColor(frame, &grey, gocv.ColorBGRToGray)
	gocv.EqualizeHist(grey, &grey)

	faces := d.faceCascade.DetectMultiScaleWithParams(
		grey, haarScaleFactor, lineThickness, 0,
		image.Point{}, image.Point{X: maxImageSize, Y: maxImageSize},
	)
	if len(faces) == 0 {
		return Result{}, classify(nil, false)
	}

	out := make([]Face, 0, len(faces))
	for _, r := range faces {
		out = append(out, Face{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()})
		center := image.Pt(r.Min.X+r.Dx()/2, r.Min.Y+r.Dy()/2)
		axes := image.Pt(r.Dx()/2, r.Dy()/2)
		gocv.Ellipse(&frame, center, axes, 0, 0, 360, faceColor, lineThickness)

		faceROI := grey.Region(r)
		eyes := d.eyeCascade.DetectMultiScaleWithParams(
			faceROI, haarScaleFactor, lineThickness, 0,
			image.Point{}, image.Point{X: maxImageSize, Y: maxImageSize},
		)
		faceROI.Close()
		if len(eyes) == 2 {
			for _, eye := range eyes {
				eyeCenter := image.Pt(r.Min.X+eye.Min.X+eye.Dx()/2, r.Min.Y+eye.Min.Y+eye.Dy()/2)
				radius := (eye.Dx()/2 + eye.Dy()/2) / 2
				gocv.Circle(&frame, eyeCenter, radius, eyeColor, lineThickness)
			}
		}
	}

	encoded, err := d.encode(frame)
	if err != nil {
		return Result{}, classify(nil, true)
	}
	return Result{Image: encoded, Faces: out}, nil
}

// Replace implements Detector.Replace: detect faces in primary as in
// Detect (without drawing), then for each face region resize secondary
// with area interpolation and composite it over the region, skipping
// transparent pixels on a 4-channel replacement image, matching
// facedetect.c's replace_face.
func (d *CascadeDetector) Replace(primary, secondary []byte) (Result, error) {
	frame, err := d.decode(primary, gocv.IMReadColor)
	if err != nil {
		return Result{}, classify(nil, true)
	}
	defer frame.Close()

	replacement, err := d.decode(secondary, gocv.IMReadUnchanged)
	if err != nil {
		return Result{}, classify(nil, true)
	}
	defer replacement.Close()

	grey := gocv.NewMat()
	defer grey.Close()
	gocv.CvtColor(frame, &grey, gocv.ColorBGRToGray)
	gocv.EqualizeHist(grey, &grey)

	faces := d.faceCascade.DetectMultiScaleWithParams(
		grey, haarScaleFactor, lineThickness, 0,
		image.Point{}, image.Point{X: maxImageSize, Y: maxImageSize},
	)
	if len(faces) == 0 {
		return Result{}, classify(nil, false)
	}

	out := make([]Face, 0, len(faces))
	hasAlpha := replacement.Channels() == 4
	for _, r := range faces {
		out = append(out, Face{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()})

		resized := gocv.NewMat()
		gocv.Resize(replacement, &resized, image.Pt(r.Dx(), r.Dy()), 0, 0, gocv.InterpolationArea)

		dstROI := frame.Region(r)
		if hasAlpha {
			channels := gocv.Split(resized)
			bgr := gocv.NewMat()
			gocv.Merge(channels[:3], &bgr)
			bgr.CopyToWithMask(&dstROI, channels[3])
			bgr.Close()
			for _, c := range channels {
				c.Close()
			}
		} else {
			resized.CopyTo(&dstROI)
		}
		dstROI.Close()
		resized.Close()
	}

	encoded, err := d.encode(frame)
	if err != nil {
		return Result{}, classify(nil, true)
	}
	return Result{Image: encoded, Faces: out}, nil
}

// maxImageSize bounds the detected-object size the way facedetect.c's
// cvSize(MAX_IMAGE_SIZE, MAX_IMAGE_SIZE) upper-bounds cvHaarDetectObjects.
const maxImageSize = 1000
