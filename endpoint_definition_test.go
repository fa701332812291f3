// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package someip

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEndpointDefinitionEquality(t *testing.T) {
	a := NewEndpointDefinition(netip.MustParseAddr("192.0.2.5"), 30491, false)
	b := NewEndpointDefinition(netip.MustParseAddr("192.0.2.5"), 30491, false)
	c := NewEndpointDefinition(netip.MustParseAddr("192.0.2.5"), 30491, true)

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), c.Key())
}

func TestEndpointDefinitionAsMapKey(t *testing.T) {
	m := map[EndpointDefinition]int{}
	a := NewEndpointDefinition(netip.MustParseAddr("10.0.0.1"), 4000, false)
	m[a] = 1
	b := NewEndpointDefinition(netip.MustParseAddr("10.0.0.1"), 4000, false)
	assert.Equal(t, 1, m[b])
}

func TestEndpointDefinitionLess(t *testing.T) {
	a := NewEndpointDefinition(netip.MustParseAddr("10.0.0.1"), 4000, false)
	b := NewEndpointDefinition(netip.MustParseAddr("10.0.0.1"), 4001, false)
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
}
