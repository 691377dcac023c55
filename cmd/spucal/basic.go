package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/spucal/pkg/calibration"
	"github.com/charlie0129/spucal/pkg/gcode"
	"github.com/charlie0129/spucal/pkg/types"
	"github.com/charlie0129/spucal/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s %s\n", version.Version, version.GitCommit)
		},
	}
}

func NewReadCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "read",
		Short:   "Print the current steps per unit",
		GroupID: gBasic,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}

			spu, err := s.engine(cmd, "").Read()
			if err != nil {
				return fmt.Errorf("failed to read steps per unit: %w", err)
			}

			bold := color.New(color.Bold).SprintFunc()
			for _, axis := range types.Axes {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s steps/mm\n", axis, bold(calibration.FormatSteps(spu.Get(axis))))
			}
			return nil
		},
	}
}

func NewHomeCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "home <axis>",
		Short:   "Home an axis",
		GroupID: gAdvanced,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			axis, err := parseAxisArg(args, 0)
			if err != nil {
				return err
			}

			s, err := openSession(cmd)
			if err != nil {
				return err
			}

			if err := s.engine(cmd, axis).Home(axis); err != nil {
				return fmt.Errorf("failed to home axis %s: %w", axis, err)
			}

			logrus.Infof("homed axis %s", axis)
			return nil
		},
	}
}

func NewPositionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "position <axis> <distance>",
		Short:   "Move an axis relative to its current position",
		GroupID: gAdvanced,
		Long: `Move an axis by distance mm relative to its current position.

Use '--' before a negative distance, e.g. 'spucal position X -- -10'.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			axis, err := parseAxisArg(args, 0)
			if err != nil {
				return err
			}
			mm, err := parseFloatArg(args, 1, "distance")
			if err != nil {
				return err
			}

			s, err := openSession(cmd)
			if err != nil {
				return err
			}

			if err := s.engine(cmd, axis).Position(axis, mm); err != nil {
				return fmt.Errorf("failed to move axis %s: %w", axis, err)
			}

			logrus.Infof("moved axis %s by %s mm", axis, gcode.FormatFloat(mm))
			return nil
		},
	}
}

func NewInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "info",
		Short:   "Print the firmware identity",
		GroupID: gAdvanced,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}

			id, err := s.engine(cmd, "").Identify()
			if err != nil {
				return fmt.Errorf("failed to query firmware: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}
