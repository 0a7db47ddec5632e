package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/degremont/pcocc/internal/cli"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	server  = "http://localhost:19000/"
	jsonout = false
)

func help(cmd *cobra.Command, _ []string) {
	_ = cmd.Help()
}

func getAllocations(c *cli.Client) []cli.JMap {
	return c.GetMany("allocations", "allocations")
}

func getAllocation(c *cli.Client, id string) cli.JMap {
	return c.Get("allocation", "allocations/"+id)
}

func getTemplates(c *cli.Client) []cli.JMap {
	return c.GetMany("templates", "templates")
}

func getTemplate(c *cli.Client, name string) cli.JMap {
	return c.Get("template", "templates/"+name)
}

func createAllocation(c *cli.Client, spec string) cli.JMap {
	return c.Post("allocation", "allocations", spec)
}

func deleteAllocation(c *cli.Client, id string) cli.JMap {
	return c.Del("allocation", "allocations/"+id)
}

func list(cmd *cobra.Command, ids []string) {
	c := cli.New(server)
	allocations := []cli.JMap{}

	if len(ids) == 0 {
		allocations = getAllocations(c)
		sort.Sort(cli.JMapSlice(allocations))
	} else {
		for _, id := range ids {
			cli.AssertID(id)
			allocations = append(allocations, getAllocation(c, id))
		}
	}

	for _, allocation := range allocations {
		allocation.Print(jsonout)
	}
}

func templates(cmd *cobra.Command, names []string) {
	c := cli.New(server)

	if len(names) == 0 {
		for _, template := range getTemplates(c) {
			fmt.Println(template)
		}
		return
	}
	for _, name := range names {
		fmt.Println(getTemplate(c, name))
	}
}

func networks(cmd *cobra.Command, names []string) {
	c := cli.New(server)

	if len(names) == 0 {
		for _, network := range c.GetMany("networks", "networks") {
			fmt.Println(network)
		}
		return
	}
	for _, name := range names {
		fmt.Println(c.Get("network", "networks/"+name))
	}
}

func alloc(cmd *cobra.Command, args []string) {
	c := cli.New(server)
	if len(args) == 0 {
		log.Fatal("expected a template name")
	}
	count := 1
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			log.WithFields(log.Fields{
				"count": args[1],
				"error": err,
			}).Fatal("invalid count")
		}
		count = n
	}

	spec := fmt.Sprintf(`{"template":%q,"count":%d}`, args[0], count)
	cli.AssertSpec(spec)
	job := createAllocation(c, spec)
	job.Print(jsonout)
}

func del(cmd *cobra.Command, ids []string) {
	c := cli.New(server)
	for _, id := range ids {
		cli.AssertID(id)
		job := deleteAllocation(c, id)
		job.Print(jsonout)
	}
}

func jobStatus(cmd *cobra.Command, ids []string) {
	c := cli.New(server)
	for _, id := range ids {
		cli.AssertID(id)
		job := c.Get("job", "jobs/"+id)
		job.Print(jsonout)
	}
}

func main() {
	root := &cobra.Command{
		Use:   "palloc",
		Short: "palloc is the cli interface to pallocd",
		Run:   help,
	}
	root.PersistentFlags().BoolVarP(&jsonout, "jsonout", "j", jsonout, "output in json")
	root.PersistentFlags().StringVarP(&server, "server", "s", server, "server address to connect to")

	cmdList := &cobra.Command{
		Use:   "list [<id>...]",
		Short: "List the allocations",
		Run:   list,
	}

	cmdTemplates := &cobra.Command{
		Use:   "templates [<name>...]",
		Short: "List resolved templates",
		Run:   templates,
	}

	cmdNetworks := &cobra.Command{
		Use:   "networks [<name>...]",
		Short: "List network definitions",
		Run:   networks,
	}

	cmdAlloc := &cobra.Command{
		Use:   "alloc <template> [<count>]",
		Short: "Allocate a cluster",
		Long:  `Queue the instantiation of "count" VMs of a template. Prints the job to poll.`,
		Run:   alloc,
	}

	cmdDelete := &cobra.Command{
		Use:   "delete <id>...",
		Short: "Tear allocations down",
		Run:   del,
	}

	cmdJob := &cobra.Command{
		Use:   "job <id>...",
		Short: "Show job status",
		Run:   jobStatus,
	}

	root.AddCommand(cmdList, cmdTemplates, cmdNetworks, cmdAlloc, cmdDelete, cmdJob)
	_ = root.Execute()
}
