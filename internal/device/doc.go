// Package device describes the Bluetooth Low Energy capability set a session
// needs from the host platform, independent of the BLE stack behind it.
//
// The model follows the central role only:
//   - Platform scans and acts as a device chooser (RequestDevice)
//   - Peripheral opens a GATT connection
//   - GATTServer resolves primary services and reports link loss
//   - Service resolves characteristics
//   - Characteristic delivers notifications and accepts writes
//
// Backends live in the goble and tinygo subpackages.
package device
