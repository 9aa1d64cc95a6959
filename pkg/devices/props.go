// Zaparoo Storage
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo Storage.
//
// Zaparoo Storage is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo Storage is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo Storage.  If not, see <http://www.gnu.org/licenses/>.

package devices

// Property names used across backends. UDisks2 names are kept verbatim so
// snapshots can be compared with busctl output; udev names are the uevent
// environment keys.
const (
	PropDevice                = "Device"
	PropMountPoints           = "MountPoints"
	PropIDType                = "IdType"
	PropIDUsage               = "IdUsage"
	PropIDLabel               = "IdLabel"
	PropIDUUID                = "IdUUID"
	PropHintIgnore            = "HintIgnore"
	PropHintSystem            = "HintSystem"
	PropUserspaceMountOptions = "UserspaceMountOptions"
	PropCryptoBackingDevice   = "CryptoBackingDevice"
	PropEncrypted             = "Encrypted"
	PropDrive                 = "Drive"
	PropSize                  = "Size"
	PropMediaRemovable        = "MediaRemovable"
	PropMediaAvailable        = "MediaAvailable"
	PropMediaCompatibility    = "MediaCompatibility"
	PropRemovable             = "Removable"
	PropCanPowerOff           = "CanPowerOff"
	PropConnectionBus         = "ConnectionBus"
	PropOptical               = "Optical"
	PropShareType             = "ShareType"
	PropURL                   = "URL"

	UdevSubsystem    = "SUBSYSTEM"
	UdevDevType      = "DEVTYPE"
	UdevDevName      = "DEVNAME"
	UdevDevPath      = "DEVPATH"
	UdevMajor        = "MAJOR"
	UdevMinor        = "MINOR"
	UdevSysName      = "SYSNAME"
	UdevIDBus        = "ID_BUS"
	UdevIDATASATA    = "ID_ATA_SATA"
	UdevUDisksSystem = "UDISKS_SYSTEM"
)

// NoObject is the D-Bus "null" object path UDisks2 uses for unset references.
const NoObject = "/"

// IsObjectRef reports whether a path property points at a real object.
func IsObjectRef(p string) bool {
	return p != "" && p != NoObject
}
