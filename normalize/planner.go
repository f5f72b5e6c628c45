package normalize

import "math"

// Dimensions is a target width/height in pixels.
type Dimensions struct {
	Width  int
	Height int
}

// Plan scales width and height so that the smaller of the two equals
// maxDimension. Images whose smaller side already fits are returned unchanged.
// Width wins the comparison when both sides are equal.
func Plan(width, height, maxDimension int) Dimensions {
	if width <= 0 || height <= 0 || maxDimension <= 0 {
		return Dimensions{Width: width, Height: height}
	}
	if width <= height {
		if width > maxDimension {
			return Dimensions{Width: maxDimension, Height: scale(height, maxDimension, width)}
		}
		return Dimensions{Width: width, Height: height}
	}
	if height > maxDimension {
		return Dimensions{Width: scale(width, maxDimension, height), Height: maxDimension}
	}
	return Dimensions{Width: width, Height: height}
}

// PlanLargest bounds the larger side to maxDimension instead. This is the
// convention of the cloud compression service and of the local encoder.
func PlanLargest(width, height, maxDimension int) Dimensions {
	if width <= 0 || height <= 0 || maxDimension <= 0 {
		return Dimensions{Width: width, Height: height}
	}
	if width > height {
		if width > maxDimension {
			return Dimensions{Width: maxDimension, Height: scale(height, maxDimension, width)}
		}
		return Dimensions{Width: width, Height: height}
	}
	if height > maxDimension {
		return Dimensions{Width: scale(width, maxDimension, height), Height: maxDimension}
	}
	return Dimensions{Width: width, Height: height}
}

// scale returns round(v * num / den), never less than 1.
func scale(v, num, den int) int {
	s := int(math.Round(float64(v) * float64(num) / float64(den)))
	if s < 1 {
		return 1
	}
	return s
}
