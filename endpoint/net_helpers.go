// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package endpoint

import "net"

// findMulticastInterface returns the first multicast-capable, up
// interface on the host, or nil (letting the kernel pick) if none is
// found. A nil *net.Interface is a valid argument to
// ipv4.PacketConn.JoinGroup/LeaveGroup.
func findMulticastInterface() *net.Interface {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	for i := range ifaces {
		iface := ifaces[i]
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		if iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		return &iface
	}
	return nil
}
