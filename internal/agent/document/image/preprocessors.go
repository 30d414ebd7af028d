package image

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
)

// 灰度处理器
type GrayscaleProcessor struct{}

func NewGrayscaleProcessor() *GrayscaleProcessor {
	return &GrayscaleProcessor{}
}

func (p *GrayscaleProcessor) Process(img image.Image) (image.Image, error) {
	return imaging.Grayscale(img), nil
}

// 降噪处理器
type DenoiseProcessor struct {
	strength float64
}

func NewDenoiseProcessor(strength float64) *DenoiseProcessor {
	return &DenoiseProcessor{strength: strength}
}

func (p *DenoiseProcessor) Process(img image.Image) (image.Image, error) {
	if p.strength <= 0 {
		return img, nil
	}
	return imaging.Blur(img, p.strength), nil
}

// 锐化处理器
type SharpenProcessor struct {
	strength float64
}

func NewSharpenProcessor(strength float64) *SharpenProcessor {
	return &SharpenProcessor{strength: strength}
}

func (p *SharpenProcessor) Process(img image.Image) (image.Image, error) {
	return imaging.Sharpen(img, p.strength), nil
}

// 对比度处理器, percentage in [-100, 100]
type ContrastProcessor struct {
	percentage float64
}

func NewContrastProcessor(percentage float64) *ContrastProcessor {
	return &ContrastProcessor{percentage: percentage}
}

func (p *ContrastProcessor) Process(img image.Image) (image.Image, error) {
	return imaging.AdjustContrast(img, p.percentage), nil
}

// 自适应阈值处理器
type AdaptiveThresholdProcessor struct {
	blockSize int
	constant  float64
}

func NewAdaptiveThresholdProcessor(blockSize int, constant float64) *AdaptiveThresholdProcessor {
	return &AdaptiveThresholdProcessor{
		blockSize: blockSize,
		constant:  constant,
	}
}

// Process marks a pixel black when it is darker than the mean of its
// block minus the constant. Block sums come from an integral image.
func (p *AdaptiveThresholdProcessor) Process(img image.Image) (image.Image, error) {
	if img == nil {
		return nil, fmt.Errorf("input image is nil")
	}

	gray := imaging.Grayscale(img)
	bounds := gray.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	integral := make([]int64, (w+1)*(h+1))
	for y := 0; y < h; y++ {
		var row int64
		for x := 0; x < w; x++ {
			row += int64(gray.Pix[y*gray.Stride+x*4])
			integral[(y+1)*(w+1)+x+1] = integral[y*(w+1)+x+1] + row
		}
	}

	result := image.NewGray(image.Rect(0, 0, w, h))
	draw.Draw(result, result.Bounds(), &image.Uniform{color.White}, image.Point{}, draw.Src)

	half := p.blockSize / 2
	for y := 0; y < h; y++ {
		y0, y1 := max(y-half, 0), min(y+half+1, h)
		for x := 0; x < w; x++ {
			x0, x1 := max(x-half, 0), min(x+half+1, w)
			count := int64((x1 - x0) * (y1 - y0))
			sum := integral[y1*(w+1)+x1] - integral[y0*(w+1)+x1] - integral[y1*(w+1)+x0] + integral[y0*(w+1)+x0]
			mean := float64(sum) / float64(count)
			if float64(gray.Pix[y*gray.Stride+x*4]) < mean-p.constant {
				result.SetGray(x, y, color.Gray{Y: 0})
			}
		}
	}
	return result, nil
}
