package idacodec

// Vector is a row of values modulo a prime p.
type Vector []int64

// Matrix is a rectangular grid of Vector rows.
type Matrix []Vector

func modulo(lhs, p int64) int64 {
	r := lhs % p
	if r < 0 {
		r += p
	}
	return r
}

func innerProduct(lhs, rhs Vector, p int64) int64 {
	n := len(lhs)
	if len(rhs) < n {
		n = len(rhs)
	}
	var sum int64
	for i := 0; i < n; i++ {
		sum += lhs[i] * rhs[i]
	}
	return modulo(sum, p)
}

func matrixProduct(lhs, rhs Matrix, p int64) Matrix {
	rows := len(lhs)
	cols := len(rhs[0])
	inner := len(lhs[0])

	result := make(Matrix, rows)
	for i := 0; i < rows; i++ {
		row := make(Vector, cols)
		for j := 0; j < cols; j++ {
			var cell int64
			for k := 0; k < inner; k++ {
				cell = modulo(cell+lhs[i][k]*rhs[k][j], p)
			}
			row[j] = cell
		}
		result[i] = row
	}
	return result
}

func transpose(m Matrix) Matrix {
	size := len(m)
	result := make(Matrix, size)
	for i := range result {
		result[i] = make(Vector, size)
	}
	for i := 0; i < size; i++ {
		for j := 0; j < size; j++ {
			result[i][j] = m[j][i]
		}
	}
	return result
}

// modInverse computes the multiplicative inverse of n modulo prime p using
// the extended Euclidean algorithm.
func modInverse(n, p int64) (int64, error) {
	t, newT := int64(0), int64(1)
	r, newR := p, n

	for newR != 0 {
		quotient := r / newR
		t, newT = newT, t-quotient*newT
		r, newR = newR, r-quotient*newR
	}

	if r > 1 {
		return 0, ErrCodec
	}
	if t < 0 {
		t += p
	}
	return t, nil
}

// constructEncodingMatrix builds the N x M Vandermonde encoding matrix: row
// a (for a = 1..n) holds [1, a, a^2, ..., a^(m-1)] mod p.
func constructEncodingMatrix(m, n int, p int64) Matrix {
	encoding := make(Matrix, n)
	for a := 1; a <= n; a++ {
		row := make(Vector, m)
		elt := int64(1)
		for i := 0; i < m; i++ {
			row[i] = elt
			elt = modulo(elt*int64(a), p)
		}
		encoding[a-1] = row
	}
	return encoding
}

// elementarySymmetricTransform computes, for the given basis vector v, the
// elementary symmetric polynomials e_0(v)..e_m(v) modulo nothing (the
// original reference keeps this step in unbounded integer arithmetic before
// reducing in VandermondeInverse's final multiply).
func elementarySymmetricTransform(v Vector, m int) Vector {
	el := make(Matrix, m+1)
	for i := range el {
		el[i] = make(Vector, len(v)+1)
	}
	for i := 1; i <= len(v); i++ {
		el[1][i] = el[1][i-1] + v[i-1]
	}
	for i := 2; i <= m; i++ {
		for j := i; j <= len(v); j++ {
			el[i][j] = el[i-1][j-1]*v[j-1] + el[i][j-1]
		}
	}

	result := make(Vector, m+1)
	for i := 0; i <= m; i++ {
		result[i] = el[i][len(el[i])-1]
	}
	return result
}

// vandermondeInverse inverts the M x M Vandermonde matrix whose rows are
// built from the given basis values (the fragment indices chosen for
// decoding), via the elementary-symmetric-polynomial closed form.
func vandermondeInverse(basis Vector, p int64) (Matrix, error) {
	m := len(basis)
	el := elementarySymmetricTransform(basis, m)

	denominators := make(Vector, m)
	for i := 0; i < m; i++ {
		prod, elt := int64(1), basis[i]
		for j := 0; j < m; j++ {
			if j != i {
				prod = modulo(prod*(elt-basis[j]), p)
			}
		}
		denominators[i] = prod
	}

	numerators := make(Matrix, m)
	for i := 0; i < m; i++ {
		row := Vector{1}
		elt, sign := basis[i], int64(-1)
		for j := 1; j < m; j++ {
			cell := modulo(modulo(row[len(row)-1]*elt, p)+sign*el[j], p)
			row = append(row, cell)
			sign *= -1
		}
		reverse(row)
		numerators[i] = row
	}

	inverses := make(map[int64]int64)
	result := make(Matrix, m)
	for i := 0; i < m; i++ {
		denom := denominators[i]
		inv, ok := inverses[denom]
		if !ok {
			var err error
			inv, err = modInverse(denom, p)
			if err != nil {
				return nil, err
			}
			inverses[denom] = inv
		}

		row := make(Vector, len(numerators[i]))
		for j, num := range numerators[i] {
			row[j] = modulo(num*inv, p)
		}
		result[i] = row
	}

	return transpose(result), nil
}

func reverse(v Vector) {
	for i, j := 0, len(v)-1; i < j; i, j = i+1, j-1 {
		v[i], v[j] = v[j], v[i]
	}
}
