package correlation

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"sensor-fdd/internal/models"
)

// MinSamples минимальное число строк окна для коэффициента Пирсона
const MinSamples = 2

// Pairwise вычисляет матрицу модулей коэффициентов корреляции Пирсона между
// столбцами окна. Для столбцов с нулевой дисперсией коэффициенты равны NaN.
func Pairwise(window *mat.Dense) (*mat.SymDense, error) {
	rows, _ := window.Dims()
	if rows < MinSamples {
		return nil, &models.InsufficientDataError{Operation: "correlation", Required: MinSamples, Actual: rows}
	}

	var corr mat.SymDense
	stat.CorrelationMatrix(&corr, window, nil)

	n := corr.SymmetricDim()
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			corr.SetSym(i, j, math.Abs(corr.At(i, j)))
		}
	}
	return &corr, nil
}

// Normalize заменяет NaN на 1.0 и выставляет единичную диагональ.
// Постоянный датчик считается коррелирующим со всеми.
func Normalize(corr *mat.SymDense) {
	n := corr.SymmetricDim()
	for i := 0; i < n; i++ {
		corr.SetSym(i, i, 1)
		for j := i + 1; j < n; j++ {
			if math.IsNaN(corr.At(i, j)) {
				corr.SetSym(i, j, 1)
			}
		}
	}
}

// Correlated возвращает индексы j, для которых corr[i][j] > threshold
func Correlated(corr *mat.SymDense, i int, threshold float64) []int {
	n := corr.SymmetricDim()
	var idx []int
	for j := 0; j < n; j++ {
		if corr.At(i, j) > threshold {
			idx = append(idx, j)
		}
	}
	return idx
}
