package baseline

import (
	"image"

	"gocv.io/x/gocv"
)

// ssim computes the mean structural similarity between two equally sized
// single-channel mats, using the standard 11x11 gaussian window.
func ssim(a, b gocv.Mat) float64 {
	if a.Cols() != b.Cols() || a.Rows() != b.Rows() || a.Empty() {
		return 0
	}

	const (
		c1 = 6.5025  // (0.01 * 255)^2
		c2 = 58.5225 // (0.03 * 255)^2
	)

	af := gocv.NewMat()
	defer af.Close()
	bf := gocv.NewMat()
	defer bf.Close()
	a.ConvertTo(&af, gocv.MatTypeCV32F)
	b.ConvertTo(&bf, gocv.MatTypeCV32F)

	win := image.Pt(11, 11)
	blur := func(src gocv.Mat) gocv.Mat {
		dst := gocv.NewMat()
		gocv.GaussianBlur(src, &dst, win, 1.5, 1.5, gocv.BorderDefault)
		return dst
	}

	muA := blur(af)
	defer muA.Close()
	muB := blur(bf)
	defer muB.Close()

	muA2 := gocv.NewMat()
	defer muA2.Close()
	gocv.Multiply(muA, muA, &muA2)
	muB2 := gocv.NewMat()
	defer muB2.Close()
	gocv.Multiply(muB, muB, &muB2)
	muAB := gocv.NewMat()
	defer muAB.Close()
	gocv.Multiply(muA, muB, &muAB)

	aa := gocv.NewMat()
	defer aa.Close()
	gocv.Multiply(af, af, &aa)
	bb := gocv.NewMat()
	defer bb.Close()
	gocv.Multiply(bf, bf, &bb)
	ab := gocv.NewMat()
	defer ab.Close()
	gocv.Multiply(af, bf, &ab)

	sigmaA2 := blur(aa)
	defer sigmaA2.Close()
	gocv.Subtract(sigmaA2, muA2, &sigmaA2)
	sigmaB2 := blur(bb)
	defer sigmaB2.Close()
	gocv.Subtract(sigmaB2, muB2, &sigmaB2)
	sigmaAB := blur(ab)
	defer sigmaAB.Close()
	gocv.Subtract(sigmaAB, muAB, &sigmaAB)

	// numerator: (2*muAB + c1) * (2*sigmaAB + c2)
	t1 := gocv.NewMat()
	defer t1.Close()
	gocv.Add(muAB, muAB, &t1)
	t1.AddFloat(c1)
	t2 := gocv.NewMat()
	defer t2.Close()
	gocv.Add(sigmaAB, sigmaAB, &t2)
	t2.AddFloat(c2)
	num := gocv.NewMat()
	defer num.Close()
	gocv.Multiply(t1, t2, &num)

	// denominator: (muA2 + muB2 + c1) * (sigmaA2 + sigmaB2 + c2)
	d1 := gocv.NewMat()
	defer d1.Close()
	gocv.Add(muA2, muB2, &d1)
	d1.AddFloat(c1)
	d2 := gocv.NewMat()
	defer d2.Close()
	gocv.Add(sigmaA2, sigmaB2, &d2)
	d2.AddFloat(c2)
	den := gocv.NewMat()
	defer den.Close()
	gocv.Multiply(d1, d2, &den)

	ssimMap := gocv.NewMat()
	defer ssimMap.Close()
	gocv.Divide(num, den, &ssimMap)
	return ssimMap.Mean().Val1
}
