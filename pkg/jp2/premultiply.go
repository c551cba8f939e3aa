package jp2

// premul scales a colour byte by alpha/255, rounding to nearest
func premul(c, a uint8) uint8 {
	return uint8((uint32(c)*uint32(a) + 127) / 255)
}

// unpremul reverses premul as closely as 8 bits allow
func unpremul(c, a uint8) uint8 {
	if a == 0 {
		return 0
	}
	v := (uint32(c)*255 + uint32(a)/2) / uint32(a)
	return uint8(min(v, 255))
}

// Premultiply scales colour by alpha in place. It does nothing for images
// without alpha or already premultiplied ones.
func (m *Image) Premultiply() {
	if !m.HasAlpha || m.Premultiplied {
		return
	}
	for i, p := range m.Pix {
		a, r, g, b := unpack(p)
		if a == 0xFF {
			continue
		}
		m.Pix[i] = pack(a, premul(r, a), premul(g, a), premul(b, a))
	}
	m.Premultiplied = true
}

// Unpremultiply undoes Premultiply in place
func (m *Image) Unpremultiply() {
	if !m.Premultiplied {
		return
	}
	for i, p := range m.Pix {
		m.Pix[i] = straight(p)
	}
	m.Premultiplied = false
}

func straight(p uint32) uint32 {
	a, r, g, b := unpack(p)
	if a == 0xFF {
		return p
	}
	return pack(a, unpremul(r, a), unpremul(g, a), unpremul(b, a))
}
