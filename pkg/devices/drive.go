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

import "slices"

// DriveType classifies the medium a drive accepts.
type DriveType string

const (
	DriveHardDisk     DriveType = "hard_disk"
	DriveCdrom        DriveType = "cdrom"
	DriveFloppy       DriveType = "floppy"
	DriveCompactFlash DriveType = "compact_flash"
	DriveMemoryStick  DriveType = "memory_stick"
	DriveSmartMedia   DriveType = "smart_media"
	DriveSdMmc        DriveType = "sd_mmc"
)

// Bus is the interconnect a drive hangs off.
type Bus string

const (
	BusIde      Bus = "ide"
	BusUsb      Bus = "usb"
	BusIeee1394 Bus = "ieee1394"
	BusScsi     Bus = "scsi"
	BusSata     Bus = "sata"
	BusPlatform Bus = "platform"
)

// StorageDrive is the view of a physical drive.
type StorageDrive struct {
	dev *Device
}

func (s StorageDrive) Size() uint64 { return s.dev.Uint(PropSize) }

// IsOptical reports a CD/DVD/BD drive, either flagged directly or through
// its media compatibility list.
func (s StorageDrive) IsOptical() bool {
	if s.dev.Has(CapOpticalDrive) {
		return true
	}
	for _, m := range s.dev.Strings(PropMediaCompatibility) {
		if len(m) >= 7 && m[:7] == "optical" {
			return true
		}
	}
	return false
}

func (s StorageDrive) IsRemovable() bool {
	return s.dev.Bool(PropMediaRemovable) || s.dev.Bool(PropRemovable)
}

func (s StorageDrive) MediaAvailable() bool { return s.dev.Bool(PropMediaAvailable) }

func (s StorageDrive) CanPowerOff() bool { return s.dev.Bool(PropCanPowerOff) }

// IsHotpluggable reports USB and FireWire drives, or drives udev explicitly
// marks as non-system.
func (s StorageDrive) IsHotpluggable() bool {
	b := s.Bus()
	if b == BusUsb || b == BusIeee1394 {
		return true
	}
	if s.dev.HasProperty(UdevUDisksSystem) {
		return !s.dev.Bool(UdevUDisksSystem)
	}
	return false
}

func (s StorageDrive) DriveType() DriveType {
	media := s.dev.Strings(PropMediaCompatibility)
	has := func(names ...string) bool {
		for _, n := range names {
			if slices.Contains(media, n) {
				return true
			}
		}
		return false
	}
	switch {
	case s.IsOptical():
		return DriveCdrom
	case has("floppy"):
		return DriveFloppy
	case has("flash_cf"):
		return DriveCompactFlash
	case has("flash_ms"):
		return DriveMemoryStick
	case has("flash_sm"):
		return DriveSmartMedia
	case has("flash_sd", "flash_sdhc", "flash_mmc", "flash_sdxc"):
		return DriveSdMmc
	default:
		return DriveHardDisk
	}
}

func (s StorageDrive) Bus() Bus {
	bus := s.dev.String(PropConnectionBus)
	udevBus := s.dev.String(UdevIDBus)
	switch {
	case udevBus == "ata":
		if s.dev.PropertyString(UdevIDATASATA) == "1" {
			return BusSata
		}
		return BusIde
	case bus == "usb":
		return BusUsb
	case bus == "ieee1394":
		return BusIeee1394
	case udevBus == "scsi":
		return BusScsi
	default:
		return BusPlatform
	}
}
