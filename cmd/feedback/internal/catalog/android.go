// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

// Android tool paths and arguments used by the default catalog. Trailing
// spaces are part of the command strings the tools were historically
// invoked with and are kept as-is.
const (
	cmdLogcat  = "/system/bin/logcat -b system -b main "
	cmdCat     = "/system/bin/cat "
	cmdDumpsys = "/system/bin/dumpsys "
	cmdDmesg   = "/system/bin/dmesg "

	LogcatDump     = cmdLogcat + "-d -v tag -v time "
	LogcatClear    = cmdLogcat + "-c "
	KernelVersion  = cmdCat + "/proc/version"
	LastKmsg       = cmdCat + "/proc/last_kmsg"
	Dmesg          = cmdDmesg
	DumpsysAll     = cmdDumpsys
	DumpsysPower   = cmdDumpsys + "power"
	DumpsysBattery = cmdDumpsys + "battery"
	DumpsysStats   = cmdDumpsys + "batterystats"
	DumpsysAlarm   = cmdDumpsys + "alarm"
	SuspendHistory = cmdCat + "/sys/kernel/wakeup_reasons/suspend_history"
	ANRTraces      = cmdCat + "/data/anr/traces.txt"
)

// Default category prefixes.
const (
	PrefixLogcat         = "logcat_"
	PrefixKernel         = "kernel_"
	PrefixDumpsys        = "dumpsys_"
	PrefixDumpsysSpecify = "dumpsys_specify_"
	PrefixWakeupReasons  = "wakeup_reasons_"
	PrefixKmsg           = "kmsg_"
	PrefixANR            = "anr_"
)

// DefaultAndroid returns the catalog collected on an Android device: log
// buffers, kernel messages, service dumps, wakeup history, the last kernel
// log and ANR traces, in that order.
func DefaultAndroid() Catalog {
	c, err := New(
		MustCategory(PrefixLogcat, LogcatDump, KernelVersion),
		MustCategory(PrefixKernel, KernelVersion, Dmesg),
		MustCategory(PrefixDumpsys, DumpsysAll),
		MustCategory(PrefixDumpsysSpecify, DumpsysPower, DumpsysBattery, DumpsysStats, DumpsysAlarm),
		MustCategory(PrefixWakeupReasons, SuspendHistory),
		MustCategory(PrefixKmsg, LastKmsg),
		MustCategory(PrefixANR, ANRTraces),
	)
	if err != nil {
		panic(err)
	}
	return c
}

// ClearCommands returns the commands that reset the device log buffers
// after a successful collection.
func ClearCommands() []string {
	return []string{LogcatClear}
}
