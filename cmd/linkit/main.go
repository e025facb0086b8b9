package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli"
)

func main() {
	b := &board{}
	app := cli.NewApp()
	app.Name = "linkit"
	app.Usage = "drive the board's peripherals from the host"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "path to config file (default: ~/.config/linkit/config.yaml)",
		},
		cli.StringFlag{
			Name:  "log-level",
			Usage: "override log_level from the config file",
		},
		cli.BoolFlag{
			Name:  "quiet, q",
			Usage: "do not print the startup banner",
		},
	}
	app.Before = b.setup
	app.After = b.teardown
	app.Commands = []cli.Command{
		cli.Command{
			Name:   "init",
			Usage:  "Write a default config file if none exists",
			Action: initCommand,
		},
		cli.Command{
			Name:  "bt",
			Usage: "Bluetooth serial client",
			Subcommands: []cli.Command{
				cli.Command{
					Name:  "scan",
					Usage: "List nearby serial peers",
					Flags: []cli.Flag{
						cli.DurationFlag{
							Name:  "window, w",
							Usage: "how long to listen (default: bluetooth.scan_timeout)",
						},
					},
					Action: b.btScanCommand,
				},
				cli.Command{
					Name:      "send",
					Usage:     "Connect to a peer, send a message and print the reply",
					ArgsUsage: "ADDRESS MESSAGE",
					Flags: []cli.Flag{
						cli.StringFlag{
							Name:  "pin",
							Usage: "pairing PIN (default: bluetooth.pin)",
						},
						cli.DurationFlag{
							Name:  "wait",
							Value: 2 * time.Second,
							Usage: "how long to collect the reply",
						},
					},
					Action: b.btSendCommand,
				},
			},
		},
		cli.Command{
			Name:  "fs",
			Usage: "Board storage",
			Subcommands: []cli.Command{
				cli.Command{
					Name:      "ls",
					Usage:     "List a directory",
					ArgsUsage: "[PATH]",
					Action:    b.fsListCommand,
				},
				cli.Command{
					Name:      "cat",
					Usage:     "Print a file",
					ArgsUsage: "PATH",
					Action:    b.fsCatCommand,
				},
				cli.Command{
					Name:      "put",
					Usage:     "Copy a host file onto the drive",
					ArgsUsage: "LOCAL PATH",
					Flags: []cli.Flag{
						cli.BoolFlag{
							Name:  "append, a",
							Usage: "append instead of replacing",
						},
					},
					Action: b.fsPutCommand,
				},
				cli.Command{
					Name:      "mkdir",
					Usage:     "Create a directory",
					ArgsUsage: "PATH",
					Action:    b.fsMkdirCommand,
				},
				cli.Command{
					Name:      "rm",
					Usage:     "Remove a file or an empty directory",
					ArgsUsage: "PATH",
					Action:    b.fsRemoveCommand,
				},
			},
		},
		cli.Command{
			Name:  "sms",
			Usage: "Text messages over the GSM modem",
			Subcommands: []cli.Command{
				cli.Command{
					Name:      "send",
					Usage:     "Send a text message",
					ArgsUsage: "NUMBER TEXT",
					Action:    b.smsSendCommand,
				},
				cli.Command{
					Name:  "read",
					Usage: "Print unread messages",
					Flags: []cli.Flag{
						cli.BoolFlag{
							Name:  "keep",
							Usage: "print the oldest message and leave it on the SIM",
						},
						cli.BoolFlag{
							Name:  "follow, f",
							Usage: "keep waiting for new messages",
						},
					},
					Action: b.smsReadCommand,
				},
			},
		},
		cli.Command{
			Name:  "call",
			Usage: "Voice calls over the GSM modem",
			Subcommands: []cli.Command{
				cli.Command{
					Name:      "dial",
					Usage:     "Call a number and wait for an answer",
					ArgsUsage: "NUMBER",
					Flags: []cli.Flag{
						cli.DurationFlag{
							Name:  "timeout, t",
							Value: 30 * time.Second,
							Usage: "how long to let it ring",
						},
					},
					Action: b.callDialCommand,
				},
				cli.Command{
					Name:   "answer",
					Usage:  "Pick up a ringing call",
					Action: b.callAnswerCommand,
				},
				cli.Command{
					Name:   "status",
					Usage:  "Show the current call",
					Action: b.callStatusCommand,
				},
				cli.Command{
					Name:   "hangup",
					Usage:  "End the current call",
					Action: b.callHangupCommand,
				},
			},
		},
		cli.Command{
			Name:  "gprs",
			Usage: "Packet data over the GSM modem",
			Subcommands: []cli.Command{
				cli.Command{
					Name:   "attach",
					Usage:  "Attach and show the assigned address",
					Action: b.gprsAttachCommand,
				},
				cli.Command{
					Name:      "resolve",
					Usage:     "Look up host names through the modem",
					ArgsUsage: "HOST...",
					Action:    b.gprsResolveCommand,
				},
			},
		},
		cli.Command{
			Name:   "battery",
			Usage:  "Show the battery level reported by the modem",
			Action: b.batteryCommand,
		},
		cli.Command{
			Name:  "wifi",
			Usage: "Wi-Fi station",
			Subcommands: []cli.Command{
				cli.Command{
					Name:   "status",
					Usage:  "Show the station's addressing",
					Action: b.wifiStatusCommand,
				},
				cli.Command{
					Name:   "scan",
					Usage:  "List nearby access points",
					Action: b.wifiScanCommand,
				},
				cli.Command{
					Name:      "resolve",
					Usage:     "Look up host names over the link",
					ArgsUsage: "HOST...",
					Action:    b.wifiResolveCommand,
				},
			},
		},
		cli.Command{
			Name:      "play",
			Usage:     "Play a WAV file from the drive",
			ArgsUsage: "PATH",
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:  "volume, v",
					Value: -1,
					Usage: "volume 0-6 (default: audio.volume)",
				},
			},
			Action: b.playCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, Red("error: ")+err.Error())
		os.Exit(1)
	}
}
