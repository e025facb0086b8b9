// Package bt provides the Bluetooth serial client of the board: scan for
// peers, connect, and exchange a byte stream. Radio work happens on the task
// loop; the application sees blocking calls and a buffered input stream.
package bt

import (
	"context"
	"errors"
)

// Nordic UART Service UUIDs carrying the serial stream. The peer receives on
// RX and notifies on TX.
const (
	UARTServiceUUID = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	UARTRXCharUUID  = "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
	UARTTXCharUUID  = "6e400003-b5a3-f393-e0a9-e50e24dcca9e"
)

// ErrTxBusy is returned by Characteristic.Write when the transmit path is
// congested and the data was not taken.
var ErrTxBusy = errors.New("bt: transmit path busy")

// Characteristic represents a GATT characteristic.
type Characteristic interface {
	// Write sends data to the characteristic.
	Write(data []byte) error
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
}

// DeviceInfo describes a discovered peer.
type DeviceInfo struct {
	Name    string
	Address string
	RSSI    int
}

// Connection represents an active link to a peer.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the radio for testing.
type Adapter interface {
	// Enable powers on the adapter.
	Enable() error
	// Scan discovers peers advertising serviceUUID until ctx is done.
	Scan(ctx context.Context, serviceUUID string) ([]DeviceInfo, error)
	// Connect establishes a connection to the peer at address. pin is the
	// pairing code; adapters that pair without one ignore it.
	Connect(ctx context.Context, address, pin string) (Connection, error)
}
