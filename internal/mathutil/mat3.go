package mathutil

// Mat3 is a row-major 3×3 matrix holding the linear part of a node transform.
type Mat3 [9]float64

func Mat3Identity() Mat3 {
	return Mat3{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// Mul returns m × b.
func (m Mat3) Mul(b Mat3) Mat3 {
	var out Mat3
	for i := 0; i < 9; i++ {
		r, c := i/3, i%3
		out[i] = m[r*3]*b[c] + m[r*3+1]*b[3+c] + m[r*3+2]*b[6+c]
	}
	return out
}

// MulVec3 returns m × v.
func (m Mat3) MulVec3(v Vec3) Vec3 {
	return Vec3{
		m[0]*v[0] + m[1]*v[1] + m[2]*v[2],
		m[3]*v[0] + m[4]*v[1] + m[5]*v[2],
		m[6]*v[0] + m[7]*v[1] + m[8]*v[2],
	}
}

// Inverse returns the inverse of m by cofactor expansion. A singular matrix
// (a node scaled to zero) yields the identity.
func (m Mat3) Inverse() Mat3 {
	c00 := m[4]*m[8] - m[5]*m[7]
	c01 := m[5]*m[6] - m[3]*m[8]
	c02 := m[3]*m[7] - m[4]*m[6]
	det := m[0]*c00 + m[1]*c01 + m[2]*c02
	if det == 0 {
		return Mat3Identity()
	}
	k := 1 / det
	return Mat3{
		c00 * k, (m[2]*m[7] - m[1]*m[8]) * k, (m[1]*m[5] - m[2]*m[4]) * k,
		c01 * k, (m[0]*m[8] - m[2]*m[6]) * k, (m[2]*m[3] - m[0]*m[5]) * k,
		c02 * k, (m[1]*m[6] - m[0]*m[7]) * k, (m[0]*m[4] - m[1]*m[3]) * k,
	}
}
