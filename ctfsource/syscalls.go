//
// Copyright 2019 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS-IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
//
package ctfsource

// Syscalls is the fixed, ordered syscall-name table used to render
// "syscall:<name>" from a syscall_enter/syscall_exit event's numeric "n"
// payload field. The ordering is normative (spec §6) and must match the
// source table byte-for-byte.
var Syscalls = [...]string{
	"debug",
	"sys_mmap",
	"sys_munmap",
	"sys_fork",
	"vforksvc",
	"exec",
	"spawnSyspage",
	"sys_exit",
	"sys_waitpid",
	"threadJoin",
	"getpid",
	"getppid",
	"gettid",
	"beginthreadex",
	"endthread",
	"nsleep",
	"phMutexCreate",
	"phMutexLock",
	"mutexTry",
	"mutexUnlock",
	"phCondCreate",
	"phCondWait",
	"condSignal",
	"condBroadcast",
	"resourceDestroy",
	"interrupt",
	"portCreate",
	"portDestroy",
	"portRegister",
	"msgSend",
	"msgRecv",
	"msgRespond",
	"lookup",
	"gettime",
	"settime",
	"keepidle",
	"platformctl",
	"wdgreload",
	"threadsinfo",
	"meminfo",
	"sys_perf_start",
	"sys_perf_read",
	"sys_perf_finish",
	"sys_perf_stop",
	"syspageprog",
	"va2pa",
	"signalHandle",
	"signalPost",
	"signalMask",
	"signalSuspend",
	"priority",
	"sys_read",
	"sys_write",
	"sys_open",
	"sys_close",
	"sys_link",
	"sys_unlink",
	"sys_fcntl",
	"sys_ftruncate",
	"sys_lseek",
	"sys_dup",
	"sys_dup2",
	"sys_pipe",
	"sys_mkfifo",
	"sys_chmod",
	"sys_fstat",
	"sys_fsync",
	"sys_accept",
	"sys_accept4",
	"sys_bind",
	"sys_connect",
	"sys_gethostname",
	"sys_getpeername",
	"sys_getsockname",
	"sys_getsockopt",
	"sys_listen",
	"sys_recvfrom",
	"sys_sendto",
	"sys_recvmsg",
	"sys_sendmsg",
	"sys_socket",
	"sys_socketpair",
	"sys_shutdown",
	"sys_sethostname",
	"sys_setsockopt",
	"sys_ioctl",
	"sys_futimens",
	"sys_poll",
	"sys_tkill",
	"sys_setpgid",
	"sys_getpgid",
	"sys_setpgrp",
	"sys_getpgrp",
	"sys_setsid",
	"sys_spawn",
	"release",
	"sbi_putchar",
	"sbi_getchar",
	"sigreturn",
	"sys_mprotect",
	"sys_statvfs",
	"sys_uname",
}
